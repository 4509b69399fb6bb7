package psrfits

import (
	"fmt"
	"regexp"
	"strconv"
)

var segmentPattern = regexp.MustCompile(`^(.*)_(\d{4})\.fits$`)

// SegmentFilename returns the name of file number filenum of an archive
func SegmentFilename(basename string, filenum int) string {
	return fmt.Sprintf("%s_%04d.fits", basename, filenum)
}

// ParseSegmentFilename splits an archive file name into its basename and
// file number
func ParseSegmentFilename(path string) (basename string, filenum int, err error) {
	m := segmentPattern.FindStringSubmatch(path)
	if m == nil || m[1] == "" {
		return "", 0, configError("parse filename", "%q does not look like <basename>_NNNN.fits", path)
	}
	filenum, _ = strconv.Atoi(m[2])
	return m[1], filenum, nil
}
