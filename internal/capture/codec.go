package capture

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/snapkeep/internal/errors"
)

// headerPrefix marks the metadata line of a capture file.
const headerPrefix = "#"

// Optional header fields reported in Header.Missing.
const (
	FieldComment = "comment"
	FieldLabels  = "labels"
)

// Header is the decoded first line of a capture file.
type Header struct {
	Metadata Metadata
	// Missing lists optional fields absent from the header (defaulted to empty)
	Missing []string
}

// headerJSON fixes the key order of serialized headers.
type headerJSON struct {
	Comment     string   `json:"comment"`
	Labels      []string `json:"labels"`
	ReqFileName string   `json:"req_file_name,omitempty"`
}

// ParseHeader decodes a header line. The returned error describes why the line is
// not a header; callers wrap it with the file path.
func ParseHeader(line string) (Header, error) {
	line = strings.TrimRight(line, "\r\n")
	body, ok := strings.CutPrefix(line, headerPrefix)
	if !ok {
		return Header{}, fmt.Errorf("first line does not start with %q", headerPrefix)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Header{}, fmt.Errorf("invalid JSON: %v", err)
	}
	if fields == nil {
		return Header{}, fmt.Errorf("header is not a JSON object")
	}

	var h Header
	if raw, ok := fields["comment"]; ok {
		if err := json.Unmarshal(raw, &h.Metadata.Comment); err != nil {
			return Header{}, fmt.Errorf("comment: %v", err)
		}
	} else {
		h.Missing = append(h.Missing, FieldComment)
	}
	if raw, ok := fields["labels"]; ok {
		var labels []string
		if err := json.Unmarshal(raw, &labels); err != nil {
			return Header{}, fmt.Errorf("labels: %v", err)
		}
		h.Metadata.Labels = NormalizeLabels(labels)
	} else {
		h.Missing = append(h.Missing, FieldLabels)
		h.Metadata.Labels = []string{}
	}
	if raw, ok := fields["req_file_name"]; ok {
		if err := json.Unmarshal(raw, &h.Metadata.SourceRequest); err != nil {
			return Header{}, fmt.Errorf("req_file_name: %v", err)
		}
	}

	return h, nil
}

// MaxHeaderLine caps the header line read while reconciling.
const MaxHeaderLine = 1 << 20

// ReadHeader reads and decodes only the first line of the capture file at path.
// Malformed headers fail with CORRUPT_HEADER; missing comment/labels do not fail.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), MaxHeaderLine)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			if err == bufio.ErrTooLong {
				return Header{}, errors.NewCorruptHeader(path, fmt.Sprintf("header line exceeds %d bytes", MaxHeaderLine))
			}
			return Header{}, err
		}
		return Header{}, errors.NewCorruptHeader(path, "empty file")
	}
	line := sc.Text()

	h, err := ParseHeader(line)
	if err != nil {
		return Header{}, errors.NewCorruptHeader(path, err.Error())
	}
	return h, nil
}

// ReadPayload reads the item lines of the capture file at path. Per-line problems are
// returned as warnings; the error is reserved for I/O failures.
func ReadPayload(path string) (map[string]Value, []ItemWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return DecodePayload(f)
}

// DecodePayload parses NAME,VALUE lines. A leading header line and later "#" comment
// lines are skipped. A partially parsed payload is still returned.
func DecodePayload(r io.Reader) (map[string]Value, []ItemWarning, error) {
	values := make(map[string]Value)
	var warnings []ItemWarning

	br := bufio.NewReader(r)
	lineNum := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return values, warnings, err
		}
		if line == "" && err == io.EOF {
			break
		}
		lineNum++

		text := strings.TrimSpace(line)
		if text != "" && !strings.HasPrefix(text, headerPrefix) {
			name, v, warn := parseItemLine(text)
			if warn != "" {
				warnings = append(warnings, ItemWarning{Line: lineNum, Name: name, Message: warn})
			} else {
				if _, dup := values[name]; dup {
					warnings = append(warnings, ItemWarning{Line: lineNum, Name: name, Message: "duplicate item, later value kept"})
				}
				values[name] = v
			}
		}

		if err == io.EOF {
			break
		}
	}
	return values, warnings, nil
}

func parseItemLine(text string) (string, Value, string) {
	name, raw, ok := strings.Cut(text, ",")
	name = strings.TrimSpace(name)
	if !ok {
		return name, Value{}, "missing value separator"
	}
	if name == "" {
		return "", Value{}, "empty item name"
	}
	var v Value
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &v); err != nil {
		return name, Value{}, fmt.Sprintf("cannot parse value: %v", err)
	}
	return name, v, ""
}

// WriteHeader serializes a header line. Output is deterministic: fixed key order and
// sorted, duplicate-free labels.
func WriteHeader(comment string, labels []string, sourceRequest string) []byte {
	h := headerJSON{
		Comment:     comment,
		Labels:      NormalizeLabels(labels),
		ReqFileName: sourceRequest,
	}

	var buf bytes.Buffer
	buf.WriteString(headerPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a struct of strings cannot fail.
	_ = enc.Encode(h)
	return buf.Bytes()
}

// WritePayload writes one NAME,VALUE line per item, sorted by name.
func WritePayload(w io.Writer, values map[string]Value) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	bw := bufio.NewWriter(w)
	for _, name := range names {
		if _, err := fmt.Fprintf(bw, "%s,%s\n", name, values[name].String()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Encode returns the full content of a capture file.
func Encode(md Metadata, values map[string]Value) []byte {
	var buf bytes.Buffer
	buf.Write(WriteHeader(md.Comment, md.Labels, md.SourceRequest))
	_ = WritePayload(&buf, values)
	return buf.Bytes()
}

// WriteFile writes a capture file. Without overwrite an existing file fails with FILE_EXISTS.
func WriteFile(path string, md Metadata, values map[string]Value, overwrite bool) error {
	data := Encode(md, values)
	if overwrite {
		return writeAtomic(path, data, 0644)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.NewFileExists(filepath.Base(path))
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReplaceHeader rewrites the first line of the capture file at path, keeping the payload.
// A file without a header gets one prepended.
func ReplaceHeader(path string, md Metadata) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	rest := data
	if bytes.HasPrefix(data, []byte(headerPrefix)) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			rest = data[i+1:]
		} else {
			rest = nil
		}
	}

	out := append(WriteHeader(md.Comment, md.Labels, md.SourceRequest), rest...)
	return writeAtomic(path, out, info.Mode().Perm())
}

// writeAtomic writes data to a hidden temp file next to path and renames it into place.
// The temp name never matches a capture glob.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+id.String()+".tmp")

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
