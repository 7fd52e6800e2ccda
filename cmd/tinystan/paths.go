package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/tinystan"
)

const envOutDir = "TINYSTAN_OUT_DIR"

// resolveOut picks the output file. An explicit --out wins; otherwise the
// file goes to $TINYSTAN_OUT_DIR, then configDir, then ./out, named
// <model>-<algorithm>.<ext>. The returned bool reports whether the path
// was defaulted.
func resolveOut(outFlag, configDir, model string, alg tinystan.Algorithm, ext string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(strings.TrimSpace(model))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid model name: %q", model)
	}
	if ext == "" {
		ext = "csv"
	}

	outDir := strings.TrimSpace(os.Getenv(envOutDir))
	if outDir == "" {
		outDir = strings.TrimSpace(configDir)
	}
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}

	outPath := filepath.Join(outDir, fmt.Sprintf("%s-%s.%s", base, alg, strings.TrimPrefix(ext, ".")))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}

// writeOutput writes out as JSON when path ends in .json and as CSV
// otherwise.
func writeOutput(path string, out *tinystan.Output) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(f)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else if err := out.WriteCSV(w); err != nil {
		return err
	}
	return w.Flush()
}

// readOutput loads a JSON output file written by writeOutput.
func readOutput(path string) (*tinystan.Output, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out tinystan.Output
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &out, nil
}

func joinInitDocs(docs []string) string {
	kept := make([]string, 0, len(docs))
	for _, d := range docs {
		if d = strings.TrimSpace(d); d != "" {
			kept = append(kept, d)
		}
	}
	return jsondata.JoinInits(kept)
}

func clockSeed() uint32 {
	n := time.Now().UnixNano()
	return uint32(n) ^ uint32(n>>32)
}
