package gather

import (
	"bufio"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/PuerkitoBio/purell"
)

// ErrNoSites is returned when the gather list is empty.
var ErrNoSites = errors.New("no gather sites configured")

// Normalize canonicalizes a gather site URL.
func Normalize(url string) (string, error) {
	flags := purell.FlagLowercaseScheme |
		purell.FlagLowercaseHost |
		purell.FlagRemoveDefaultPort |
		purell.FlagRemoveFragment |
		purell.FlagRemoveDuplicateSlashes |
		purell.FlagRemoveDotSegments |
		purell.FlagRemoveTrailingSlash

	return purell.NormalizeURLString(url, flags)
}

// LoadSites reads a gather list, one site URL per line. Blank lines and
// lines starting with '#' are skipped.
func LoadSites(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return NormalizeSites(lines)
}

// NormalizeSites cleans a list of gather site URLs, dropping blanks,
// comments, unparsable URLs and duplicates while keeping order.
func NormalizeSites(raw []string) ([]string, error) {
	seen := make(map[string]bool)
	var sites []string
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		normalized, err := Normalize(line)
		if err != nil {
			slog.Error("couldn't normalize gather site", slog.String("site", line), slog.Any("err", err))
			continue
		}
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		sites = append(sites, normalized)
	}

	if len(sites) == 0 {
		return nil, ErrNoSites
	}
	return sites, nil
}
