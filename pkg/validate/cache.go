package validate

import (
	"bufio"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Archives from the same data source share a metric schema, so the validated
// set is cached across runs. The cache is one name per line with no header;
// staleness is the caller's call (force-revalidate), not the cache's.

// LoadCache returns the cached validated set, or nil when the cache is
// absent or a revalidation is forced.
func LoadCache(path string, forceRevalidate bool) ([]string, error) {
	if forceRevalidate {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var names []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// SaveCache overwrites the cache with the given ordered set. Single writer
// assumed; a failure here costs a revalidation on the next run, nothing more.
func SaveCache(path string, names []string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, name := range names {
		if _, err := writer.WriteString(name + "\n"); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// Fingerprint digests an ordered metric set. Logged and stored with run
// history so schema drift between archives is visible; order matters because
// the cache is reused verbatim.
func Fingerprint(names []string) uint64 {
	digest := xxhash.New()
	for _, name := range names {
		digest.WriteString(name)
		digest.Write([]byte{'\n'})
	}
	return digest.Sum64()
}
