// Package flatfile stores directory tables as pipe-delimited text files.
//
// Each file starts with a header line naming the columns. Rows that do not
// parse are skipped on load so one damaged line does not lose the table.
package flatfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const sep = "|"

// readRows returns the rows of path split into fields, header excluded.
// Rows with a column count other than cols are reported through skip.
func readRows(path string, cols int, skip func(line int, raw string)) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows [][]string
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if n == 1 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, sep)
		if len(fields) != cols {
			skip(n, line)
			continue
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// writeRows replaces path atomically with header and rows.
func writeRows(ctx context.Context, path, header string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range rows {
		for _, field := range r {
			if strings.ContainsAny(field, sep+"\r\n") {
				return fmt.Errorf("field %q: delimiter in value", field)
			}
		}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, header)
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, sep))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
