package icons

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	segmentSplit  = regexp.MustCompile("[^A-Za-z0-9]*[A-Z]?[a-z0-9]*")
	alphanumOnly  = regexp.MustCompile("^[A-Za-z0-9]+$")
	leadingDelims = regexp.MustCompile("^[^A-Za-z0-9]+")
	delimsOnly    = regexp.MustCompile("^[^A-Za-z0-9]+$")
	removeQuotes  = strings.NewReplacer(`"`, ``, `'`, ``)
)

// GenerateNameFromPath generates a more human readable name from the given
// path. It is used as fallback when a resource carries no name of its own.
func GenerateNameFromPath(path string) string {
	_, fileName := filepath.Split(path)
	segments := stripKnownExtension(segmentSplit.FindAllString(fileName, -1))

	// Group very short segments with their neighbors, so that
	// abbreviations stay together as one word.
	parts := make([]string, 0, len(segments))
	var group string
	flush := func() {
		if group != "" {
			parts = append(parts, group)
			group = ""
		}
	}
	for _, segment := range segments {
		if len(leadingDelims.ReplaceAllString(segment, "")) <= 2 {
			group += segment
			continue
		}
		flush()
		parts = append(parts, segment)
	}
	flush()

	// Strip the delimiters the splitter kept and title-case plain words.
	for i := range parts {
		parts[i] = leadingDelims.ReplaceAllString(parts[i], "")
		if alphanumOnly.MatchString(parts[i]) {
			parts[i] = strings.Title(parts[i]) //nolint:staticcheck
		}
	}

	return strings.Join(parts, " ")
}

// stripKnownExtension removes the final segment when it is a well known
// icon container or executable extension.
func stripKnownExtension(segments []string) []string {
	if len(segments) < 2 {
		return segments
	}
	switch strings.ToLower(segments[len(segments)-1]) {
	case
		".ico",      // Windows Icon Container
		".cur",      // Windows Cursor Container
		".png",      // Portable Network Graphics
		".dll",      // Windows Dynamic Link Library
		".exe",      // Windows Executable
		".msi",      // Windows Installer
		".bat",      // Windows Batch File
		".cmd",      // Windows Command Script
		".ps1",      // Windows Powershell Cmdlet
		".run",      // Linux Executable
		".appimage", // Linux AppImage
		".app",      // MacOS Executable
		".action",   // MacOS Automator Action
		".out":      // Generic Compiled Executable
		return segments[:len(segments)-1]
	}
	return segments
}

func cleanFileDescription(fileDescr string) string {
	fields := strings.Fields(fileDescr)
	for i := range fields {
		fields[i] = removeQuotes.Replace(fields[i])
	}

	// A short delimiter field ends the name, the rest is a description.
	// The first field does not count, some names start with a delimiter.
	endIndex := len(fields)
	for i, field := range fields {
		if i >= 1 && len(field) <= 2 && !alphanumOnly.MatchString(field) {
			endIndex = i
			break
		}
	}
	name := strings.Join(fields[:endIndex], " ")

	// If there are multiple sentences, only use the first.
	if strings.Contains(name, ". ") {
		name = strings.SplitN(name, ". ", 2)[0]
	}

	// Drop names without any characters or numbers.
	if delimsOnly.MatchString(name) {
		return ""
	}

	return strings.TrimSpace(name)
}
