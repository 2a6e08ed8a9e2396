// Package gather knows how gather sites lay out their URLs. It discovers the
// version at which a bundle first appeared, tells which catalog entries are
// new since the last run and loads the list of sites to crawl.
package gather

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fxf-vault/internal/fxf"
)

// ErrNoVersion is returned for URLs without a "_<version>/" segment.
var ErrNoVersion = errors.New("url has no version segment")

// versionSegment locates the "_<version>" segment of a versioned URL such
// as http://sync.example.com/bfsites/aixpatches_382/52.fxf and returns the
// index of its underscore and of the slash that ends it.
func versionSegment(url string) (underscore, slash int, err error) {
	slash = strings.LastIndex(url, "/")
	if slash < 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrNoVersion, url)
	}
	underscore = strings.LastIndex(url[:slash], "_")
	if underscore < 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrNoVersion, url)
	}
	return underscore, slash, nil
}

// VersionOf returns the version embedded in url.
func VersionOf(url string) (int, error) {
	underscore, slash, err := versionSegment(url)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(url[underscore+1 : slash])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrNoVersion, url)
	}
	return v, nil
}

// StripVersion removes the version segment from url, giving a key that
// identifies the same bundle across catalog versions.
//
//	.../aixpatches_382/52.fxf -> .../aixpatches/52.fxf
func StripVersion(url string) string {
	underscore, slash, err := versionSegment(url)
	if err != nil {
		return url
	}
	return url[:underscore] + url[slash:]
}

// AddVersion inserts version into a version-stripped url.
//
//	.../aixpatches/52.fxf, 382 -> .../aixpatches_382/52.fxf
func AddVersion(url string, version int) string {
	slash := strings.LastIndex(url, "/")
	if slash < 0 {
		return url + "_" + strconv.Itoa(version)
	}
	return url[:slash] + "_" + strconv.Itoa(version) + url[slash:]
}

// WithVersion rewrites the version segment of a versioned url.
func WithVersion(url string, version int) string {
	return AddVersion(StripVersion(url), version)
}

// ShortName returns the last path segment of a gather site URL.
//
//	http://sync.example.com/cgi-bin/bfgather/bessecurity -> bessecurity
func ShortName(siteURL string) string {
	trimmed := strings.TrimRight(siteURL, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

// BundleName returns the bundle name of a bundle URL: its file name
// without the extension.
func BundleName(url string) string {
	name := url[strings.LastIndex(url, "/")+1:]
	return strings.TrimSuffix(name, fxf.BundleExt)
}
