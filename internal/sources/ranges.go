package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/lc/sift/internal/filesys"
	"github.com/lc/sift/internal/log"
	"github.com/lc/sift/internal/pairfile"
)

// LoadRanges returns the lines of the address-range list at location, which
// is either an http(s) URL or a local path.
//
// With a non-empty cacheFile, a successful download is also written there,
// and a failed download falls back to the cached copy.
func LoadRanges(ctx context.Context, client Doer, fsys filesys.FileOps, location, cacheFile string) ([]string, error) {
	if !isRemote(location) {
		lines, err := pairfile.ReadLines(fsys, location)
		if err != nil {
			return nil, fmt.Errorf("reading ranges: %w", err)
		}
		return lines, nil
	}

	data, err := Fetch(ctx, client, location)
	if err == nil {
		lines := pairfile.SplitLines(data)
		if cacheFile != "" {
			if werr := pairfile.WriteLines(fsys, cacheFile, lines); werr != nil {
				log.Warnf("sources: could not update range cache %s: %v", cacheFile, werr)
			}
		}
		return lines, nil
	}
	if cacheFile == "" || ctx.Err() != nil {
		return nil, fmt.Errorf("fetching ranges: %w", err)
	}

	lines, cerr := pairfile.ReadLines(fsys, cacheFile)
	if cerr != nil {
		return nil, fmt.Errorf("fetching ranges: %w (cache: %v)", err, cerr)
	}
	log.Warnf("sources: using cached ranges from %s: %v", cacheFile, err)
	return lines, nil
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
