package domain

import (
	"strings"
	"time"
)

// AspectRatio enumerates supported output aspect ratios.
type AspectRatio string

const (
	AspectPortrait  AspectRatio = "9:16"
	AspectLandscape AspectRatio = "16:9"
)

// ParseAspectRatio normalizes a client-supplied aspect ratio, defaulting to
// portrait when empty.
func ParseAspectRatio(s string) (AspectRatio, bool) {
	switch AspectRatio(strings.TrimSpace(s)) {
	case "":
		return AspectPortrait, true
	case AspectPortrait:
		return AspectPortrait, true
	case AspectLandscape:
		return AspectLandscape, true
	default:
		return "", false
	}
}

// Project is the durable record for one composite generation. It doubles as
// the audit trail of the jobs run against it: the row is created before
// credits are reserved, and every terminal failure is written back onto it.
type Project struct {
	ID                 string      `json:"id"`
	UserID             string      `json:"userId"`
	Name               string      `json:"name"`
	ProductName        string      `json:"productName"`
	ProductDescription string      `json:"productDescription,omitempty"`
	UserPrompt         string      `json:"userPrompt,omitempty"`
	AspectRatio        AspectRatio `json:"aspectRatio"`
	TargetLength       int         `json:"targetLength"`
	InputImages        []string    `json:"uploadedImages"`
	GeneratedImage     string      `json:"generatedImage,omitempty"`
	GeneratedVideo     string      `json:"generatedVideo,omitempty"`
	IsGenerating       bool        `json:"isGenerating"`
	IsPublished        bool        `json:"isPublished"`
	ErrorKind          string      `json:"errorKind,omitempty"`
	ErrorMessage       string      `json:"error,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
}

// Publishable reports whether the project has at least one generated output.
// Publishing a project with neither is rejected.
func (p Project) Publishable() bool {
	return p.GeneratedImage != "" || p.GeneratedVideo != ""
}
