package prd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("prd not found")
	ErrForbidden       = errors.New("not allowed to access this prd")
	ErrVersionConflict = errors.New("prd was modified concurrently")
	ErrValidation      = errors.New("validation failed")
)

const (
	// MaxIdeaLength is the longest idea accepted, in characters
	MaxIdeaLength = 2000
	// MaxInstructionLength is the longest revision instruction accepted, in characters
	MaxInstructionLength = 2000
	// MaxTitleLength matches the prds.title column
	MaxTitleLength = 200

	DefaultTemplate = "standard"
	DefaultLanguage = "en"
)

var languagePattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)

// PRD is a generated product requirements document. Content is omitted
// from list results.
type PRD struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
	Title       string     `json:"title"`
	Idea        string     `json:"idea"`
	Template    string     `json:"template"`
	Language    string     `json:"language"`
	Content     string     `json:"content,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Revision is a previous version of a PRD, stored when it is revised
type Revision struct {
	PRDID       uuid.UUID  `json:"prd_id"`
	Version     int        `json:"version"`
	Content     string     `json:"content"`
	Instruction string     `json:"instruction"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// GenerateRequest asks for a new PRD
type GenerateRequest struct {
	Idea        string     `json:"idea"`
	Template    string     `json:"template,omitempty"`
	Language    string     `json:"language,omitempty"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
}

// Validate normalizes the request and applies defaults
func (r *GenerateRequest) Validate() error {
	r.Idea = strings.TrimSpace(r.Idea)
	if r.Idea == "" {
		return fmt.Errorf("%w: idea is required", ErrValidation)
	}
	if utf8.RuneCountInString(r.Idea) > MaxIdeaLength {
		return fmt.Errorf("%w: idea must be at most %d characters", ErrValidation, MaxIdeaLength)
	}

	r.Template = strings.ToLower(strings.TrimSpace(r.Template))
	if r.Template == "" {
		r.Template = DefaultTemplate
	}
	if _, ok := LookupTemplate(r.Template); !ok {
		return fmt.Errorf("%w: unknown template %q", ErrValidation, r.Template)
	}

	r.Language = strings.TrimSpace(r.Language)
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
	if len(r.Language) > 35 || !languagePattern.MatchString(r.Language) {
		return fmt.Errorf("%w: invalid language %q", ErrValidation, r.Language)
	}
	return nil
}

// ReviseRequest asks for a change to an existing PRD
type ReviseRequest struct {
	Instruction string `json:"instruction"`
}

// Validate normalizes the request
func (r *ReviseRequest) Validate() error {
	r.Instruction = strings.TrimSpace(r.Instruction)
	if r.Instruction == "" {
		return fmt.Errorf("%w: instruction is required", ErrValidation)
	}
	if utf8.RuneCountInString(r.Instruction) > MaxInstructionLength {
		return fmt.Errorf("%w: instruction must be at most %d characters", ErrValidation, MaxInstructionLength)
	}
	return nil
}

// ValidateTitle trims a user supplied title
func ValidateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title is required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("%w: title must be at most %d characters", ErrValidation, MaxTitleLength)
	}
	return title, nil
}

// ListOptions filters ListForUser. A nil WorkspaceID lists personal PRDs.
type ListOptions struct {
	WorkspaceID *uuid.UUID
	Limit       int
	Offset      int
}

// Costs are the credit prices of the two metered operations
type Costs struct {
	Generation int64
	Revision   int64
}

// DefaultCosts charges one credit per generation and per revision
var DefaultCosts = Costs{Generation: 1, Revision: 1}

// ExtractTitle returns the first markdown H1 of content, falling back to
// the idea truncated to a title-sized string
func ExtractTitle(content, idea string) string {
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || !strings.HasPrefix(trimmed, "# ") {
			continue
		}
		title := strings.TrimSpace(strings.TrimRight(strings.TrimPrefix(trimmed, "# "), "#"))
		if title != "" {
			return truncate(title, MaxTitleLength)
		}
	}

	title := strings.Join(strings.Fields(idea), " ")
	if title == "" {
		return "Untitled PRD"
	}
	return truncate(title, 80)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
