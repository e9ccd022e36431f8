package engine

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Transaction is one HTTP response with enough request context to report on.
type Transaction struct {
	ID     string      `json:"id,omitempty"`
	URL    string      `json:"url"`
	Method string      `json:"method,omitempty"`
	Status int         `json:"status,omitempty"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

// Label names the transaction in logs.
func (t Transaction) Label() string {
	if t.ID != "" {
		return t.ID
	}
	if t.URL != "" {
		return t.URL
	}
	return "<unnamed>"
}

// ReadRawResponse parses a file holding one raw HTTP/1.x response, status
// line included. The file path becomes the transaction URL.
func ReadRawResponse(path string) (Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transaction{}, err
	}
	defer f.Close()
	tx, err := ParseRawResponse(f, path)
	if err != nil {
		return Transaction{}, fmt.Errorf("%s: %w", path, err)
	}
	return tx, nil
}

// ParseRawResponse reads one raw HTTP response from r.
func ParseRawResponse(r io.Reader, name string) (Transaction, error) {
	br := bufio.NewReader(io.LimitReader(r, DefaultMaxBytes*2))
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse response: %w", err)
	}
	defer resp.Body.Close()
	body, err := readBody(resp.Body, resp.Header.Get("Content-Encoding"), DefaultMaxBytes)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{
		ID:     name,
		URL:    name,
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// readBody reads at most limit+1 bytes so oversize bodies are still caught by
// the size filter, decoding gzip when the response says so.
func readBody(r io.Reader, encoding string, limit int64) ([]byte, error) {
	if strings.EqualFold(strings.TrimSpace(encoding), "gzip") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

type harFile struct {
	Log struct {
		Entries []harEntry `json:"entries"`
	} `json:"log"`
}

type harEntry struct {
	Request struct {
		Method string `json:"method"`
		URL    string `json:"url"`
	} `json:"request"`
	Response struct {
		Status  int `json:"status"`
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Content struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"content"`
	} `json:"response"`
}

// ReadHAR converts the entries of a HAR 1.2 log into transactions, in log
// order. Entries without a response body are kept so the caller can count them.
func ReadHAR(r io.Reader, name string) ([]Transaction, error) {
	var h harFile
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode har: %w", err)
	}
	out := make([]Transaction, 0, len(h.Log.Entries))
	for i, e := range h.Log.Entries {
		hdr := http.Header{}
		for _, kv := range e.Response.Headers {
			hdr.Add(kv.Name, kv.Value)
		}
		if hdr.Get("Content-Type") == "" && e.Response.Content.MimeType != "" {
			hdr.Set("Content-Type", e.Response.Content.MimeType)
		}
		body := []byte(e.Response.Content.Text)
		if strings.EqualFold(e.Response.Content.Encoding, "base64") {
			dec, err := base64.StdEncoding.DecodeString(e.Response.Content.Text)
			if err != nil {
				return nil, fmt.Errorf("har entry %d: %w", i, err)
			}
			body = dec
		}
		out = append(out, Transaction{
			ID:     fmt.Sprintf("%s#%d", name, i),
			URL:    e.Request.URL,
			Method: e.Request.Method,
			Status: e.Response.Status,
			Header: hdr,
			Body:   body,
		})
	}
	return out, nil
}

// isHAR reports whether b looks like a HAR document rather than a raw dump.
func isHAR(b []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(b), []byte("{"))
}
