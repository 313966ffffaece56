package suite

import (
	"fmt"
	"regexp"
	"strconv"
)

// BuildSummary holds the aggregate size of emitted build artifacts.
type BuildSummary struct {
	Files  int     `json:"files"`
	SizeKB float64 `json:"sizeKB"`
	Size   string  `json:"size,omitempty"` // e.g. "143.36 kB"
}

func (s *BuildSummary) String() string {
	if s.Files == 0 {
		return "Status: OK\n"
	}
	return fmt.Sprintf("Status: OK\n%d files, %s\n", s.Files, s.Size)
}

// buildSizeRe matches the first size column after an output path, as printed
// by bundlers such as vite and next.
var buildSizeRe = regexp.MustCompile(`(?m)(?:^|\s)(?:\./)?(?:dist|build|out|\.next)/\S+\s+([\d.]+)\s*(kB|KB|KiB|MB|MiB|B)\b`)

func parseBuildOutput(output string) *BuildSummary {
	output = clean(output)
	s := &BuildSummary{}

	for _, m := range buildSizeRe.FindAllStringSubmatch(output, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "MB", "MiB":
			v *= 1024
		case "B":
			v /= 1024
		}
		s.Files++
		s.SizeKB += v
	}
	if s.Files > 0 {
		s.Size = fmt.Sprintf("%.2f kB", s.SizeKB)
	}
	return s
}
