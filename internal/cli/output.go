package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/koustreak/pgextract/internal/errs"
)

const (
	formatJSON = "json"
	formatText = "text"
)

func checkFormat(format string) error {
	if format != formatJSON && format != formatText {
		return errs.Newf(errs.ErrKindInvalidInput, "unknown output format %q (want json or text)", format)
	}
	return nil
}

// writeJSON pretty-prints v to w.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openOutput returns stdout for an empty path or "-", otherwise a new file.
func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindInvalidInput, "create output file "+path, err)
	}
	return f, f.Close, nil
}
