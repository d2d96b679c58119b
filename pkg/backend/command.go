package backend

import (
	"fmt"
	"strings"
)

// allowedImagePrefixes is the fixed set of trusted neuroimaging publishers.
// An image is accepted when its base path (before any tag or digest) starts
// with one of these prefixes. The match is a plain string prefix, so
// "freesurfer/freesurfer" also accepts "freesurfer/freesurfer-forked";
// tightening to a path-boundary match would reject images the current
// deployments rely on.
var allowedImagePrefixes = []string{
	"freesurfer/",
	"deepmi/",
	"nipreps/",
	"bids/",
	"brainlife/",
	"nipy/",
	"fnndsc/",
	"antsx/",
	"neurodebian",
	"pennbbl/",
}

// ValidateImage rejects container images outside the allow-list
func ValidateImage(image string) error {
	base := ImageBase(image)
	for _, prefix := range allowedImagePrefixes {
		if strings.HasPrefix(base, prefix) {
			return nil
		}
	}
	return fmt.Errorf("Image '%s' is not in the allowed list of neuroimaging publishers", image)
}

// ImageBase strips the tag and digest from an image reference
func ImageBase(image string) string {
	base := image
	if i := strings.Index(base, "@"); i >= 0 {
		base = base[:i]
	}
	// A colon after the last slash is a tag; earlier colons belong to a
	// registry host:port
	if i := strings.LastIndex(base, ":"); i > strings.LastIndex(base, "/") {
		base = base[:i]
	}
	return base
}

// strippedChars are removed from every substituted parameter value. The set
// covers shell metacharacters that would let a parameter break out of the
// command template.
const strippedChars = ";|&`$(){}!><\n\r"

// Sanitize strips shell metacharacters from a parameter value
func Sanitize(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if strings.ContainsRune(strippedChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BuildCommand substitutes parameters into a command template. Both {name}
// and ${name} placeholder forms are replaced; every value passes through
// the sanitiser first. Unresolved placeholders are left as-is so the
// container's own shell can expand constructs like ${SUBJECTS_DIR}.
func BuildCommand(template string, params map[string]any) string {
	cmd := template
	for key, value := range params {
		if strings.HasPrefix(key, "_") {
			continue
		}
		safe := Sanitize(fmt.Sprintf("%v", value))
		cmd = strings.ReplaceAll(cmd, "{"+key+"}", safe)
		cmd = strings.ReplaceAll(cmd, "${"+key+"}", safe)
	}
	return cmd
}
