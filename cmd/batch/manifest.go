package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/castfetch/castfetch/pkg/cli"
	"github.com/castfetch/castfetch/pkg/client"
	"github.com/castfetch/castfetch/pkg/episode"
	"github.com/castfetch/castfetch/pkg/transfer"
)

// A text manifest has one episode per line:
//
// https://example.com/pod/ep1.mp3  pods/ep1.mp3  48211968  2023-03-14T09:26:53Z
// https://example.com/pod/ep2.mp3  pods/ep2.mp3
//
// The length and published time are optional; everything after the length is
// the published time, so RFC 2822 dates with spaces work. Blank lines and
// lines starting with # are ignored.
//
// A YAML manifest (.yaml or .yml) is a list of entries with the keys url,
// dest, length, published, title and content_type. With a title, dest is the
// directory and the file is named after the episode.
//
// Entries are grouped by scheme and host: one host is one series, and a
// connection failure skips the rest of that series.

type series struct {
	key      string
	requests []transfer.Request
}

type manifest []series

func (m manifest) add(req transfer.Request) (manifest, error) {
	key, err := client.GetSchemeHostKey(req.URL)
	if err != nil {
		return m, fmt.Errorf("error parsing url %s: %w", req.URL, err)
	}
	for i := range m {
		if m[i].key == key {
			m[i].requests = append(m[i].requests, req)
			return m, nil
		}
	}
	return append(m, series{key: key, requests: []transfer.Request{req}}), nil
}

func (m manifest) count() int {
	var n int
	for _, s := range m {
		n += len(s.requests)
	}
	return n
}

type yamlEntry struct {
	URL         string `yaml:"url"`
	Dest        string `yaml:"dest"`
	Length      int64  `yaml:"length"`
	Published   string `yaml:"published"`
	Title       string `yaml:"title"`
	ContentType string `yaml:"content_type"`
}

func manifestFile(manifestPath string) (*os.File, error) {
	if manifestPath == "-" {
		return os.Stdin, nil
	}
	if _, err := os.Stat(manifestPath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("manifest file %s does not exist", manifestPath)
	}
	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("error opening manifest file %s: %w", manifestPath, err)
	}
	return file, nil
}

func isYAML(manifestPath string) bool {
	switch strings.ToLower(filepath.Ext(manifestPath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func parseLine(line string) (transfer.Request, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return transfer.Request{}, fmt.Errorf("error parsing manifest invalid line format `%s`", line)
	}
	req := transfer.Request{URL: fields[0], Dest: fields[1]}
	if len(fields) > 2 {
		length, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return transfer.Request{}, fmt.Errorf("error parsing manifest invalid length `%s`: %w", fields[2], err)
		}
		req.ExpectedLength = length
	}
	if len(fields) > 3 {
		published, err := cli.ParsePublished(strings.Join(fields[3:], " "))
		if err != nil {
			return transfer.Request{}, fmt.Errorf("error parsing manifest line `%s`: %w", line, err)
		}
		req.ExpectedModTime = published
	}
	return req, nil
}

func (e yamlEntry) request() (transfer.Request, error) {
	if e.URL == "" || e.Dest == "" {
		return transfer.Request{}, fmt.Errorf("manifest entry needs both url and dest: %+v", e)
	}
	published, err := cli.ParsePublished(e.Published)
	if err != nil {
		return transfer.Request{}, err
	}
	dest := e.Dest
	if e.Title != "" {
		dest = episode.Path(e.Dest, e.Title, published, e.URL, e.ContentType)
	}
	return transfer.Request{URL: e.URL, Dest: dest, ExpectedLength: e.Length, ExpectedModTime: published}, nil
}

func checkSeenDestinations(destinations map[string]string, dest string, urlString string) error {
	if seenURL, ok := destinations[dest]; ok {
		if seenURL != urlString {
			return fmt.Errorf("duplicate destination %s with different urls: %s and %s", dest, seenURL, urlString)
		}
		return fmt.Errorf("duplicate entry: %s %s", urlString, dest)
	}
	return nil
}

func buildManifest(requests []transfer.Request) (manifest, error) {
	seenDestinations := make(map[string]string)
	var m manifest
	for _, req := range requests {
		if err := checkSeenDestinations(seenDestinations, req.Dest, req.URL); err != nil {
			return nil, err
		}
		seenDestinations[req.Dest] = req.URL

		var err error
		if m, err = m.add(req); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func parseManifest(r io.Reader) (manifest, error) {
	var requests []transfer.Request
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		req, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	return buildManifest(requests)
}

func parseYAMLManifest(r io.Reader) (manifest, error) {
	var entries []yamlEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error decoding manifest: %w", err)
	}
	requests := make([]transfer.Request, 0, len(entries))
	for _, e := range entries {
		req, err := e.request()
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return buildManifest(requests)
}
