package content

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const lessonExtension = ".mdx"

var (
	// ErrLessonNotFound indicates an unknown module/lesson pair or an invalid slug.
	ErrLessonNotFound = errors.New("content: lesson not found")

	slugPattern    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	nonSlugChars   = regexp.MustCompile(`[^a-z0-9]+`)
)

// LessonSummary is the catalog entry of one lesson.
type LessonSummary struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

// Module groups the lessons of one content directory, ordered by frontmatter order.
type Module struct {
	Slug        string          `json:"slug"`
	Badge       string          `json:"badge,omitempty"`
	Description string          `json:"description,omitempty"`
	Lessons     []LessonSummary `json:"lessons"`
}

// Heading is one markdown heading of a lesson body.
type Heading struct {
	Depth int    `json:"depth"`
	Text  string `json:"text"`
	ID    string `json:"id"`
}

// Lesson is a single lesson with its raw, unrendered body.
type Lesson struct {
	ModuleSlug  string      `json:"module_slug"`
	Slug        string      `json:"slug"`
	Frontmatter Frontmatter `json:"frontmatter"`
	Headings    []Heading   `json:"headings"`
	Body        string      `json:"body"`
}

// Catalog reads <module>/<lesson>.mdx files from a filesystem root.
type Catalog struct {
	files  fs.FS
	logger *zap.Logger
}

// NewCatalog serves content from dir on disk.
func NewCatalog(dir string, logger *zap.Logger) *Catalog {
	return NewCatalogFS(os.DirFS(dir), logger)
}

// NewCatalogFS serves content from an arbitrary filesystem.
func NewCatalogFS(files fs.FS, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{files: files, logger: logger}
}

// ValidSlug reports whether value is a lowercase, hyphen separated slug.
func ValidSlug(value string) bool {
	return slugPattern.MatchString(value)
}

// Modules lists every module sorted by slug. Files with unreadable frontmatter are skipped.
func (c *Catalog) Modules() ([]Module, error) {
	entries, err := fs.ReadDir(c.files, ".")
	if err != nil {
		return nil, err
	}

	modules := make([]Module, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !ValidSlug(entry.Name()) {
			continue
		}
		module, err := c.loadModule(entry.Name())
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Slug < modules[j].Slug
	})
	return modules, nil
}

func (c *Catalog) loadModule(moduleSlug string) (Module, error) {
	entries, err := fs.ReadDir(c.files, moduleSlug)
	if err != nil {
		return Module{}, err
	}
	module := Module{Slug: moduleSlug, Lessons: make([]LessonSummary, 0, len(entries))}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, lessonExtension) {
			continue
		}
		lessonSlug := strings.TrimSuffix(name, lessonExtension)
		if !ValidSlug(lessonSlug) {
			continue
		}
		raw, err := fs.ReadFile(c.files, path.Join(moduleSlug, name))
		if err != nil {
			return Module{}, err
		}
		frontmatter, _, err := ParseDocument(raw)
		if err != nil {
			c.logger.Warn("skipping lesson with invalid frontmatter",
				zap.String("module_slug", moduleSlug),
				zap.String("lesson_slug", lessonSlug),
				zap.Error(err))
			continue
		}
		if module.Badge == "" {
			module.Badge = frontmatter.ModuleBadge
		}
		if module.Description == "" {
			module.Description = frontmatter.ModuleDescription
		}
		module.Lessons = append(module.Lessons, LessonSummary{
			Slug:  lessonSlug,
			Title: frontmatter.Title,
			Order: frontmatter.Order,
		})
	}
	sort.SliceStable(module.Lessons, func(i, j int) bool {
		if module.Lessons[i].Order == module.Lessons[j].Order {
			return module.Lessons[i].Slug < module.Lessons[j].Slug
		}
		return module.Lessons[i].Order < module.Lessons[j].Order
	})
	return module, nil
}

// Lesson loads one lesson. Unknown or malformed slugs yield ErrLessonNotFound.
func (c *Catalog) Lesson(moduleSlug, lessonSlug string) (Lesson, error) {
	if !ValidSlug(moduleSlug) || !ValidSlug(lessonSlug) {
		return Lesson{}, ErrLessonNotFound
	}
	raw, err := fs.ReadFile(c.files, path.Join(moduleSlug, lessonSlug+lessonExtension))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Lesson{}, ErrLessonNotFound
		}
		return Lesson{}, err
	}
	frontmatter, body, err := ParseDocument(raw)
	if err != nil {
		return Lesson{}, err
	}
	return Lesson{
		ModuleSlug:  moduleSlug,
		Slug:        lessonSlug,
		Frontmatter: frontmatter,
		Headings:    extractHeadings(body),
		Body:        body,
	}, nil
}

func extractHeadings(body string) []Heading {
	headings := make([]Heading, 0)
	seen := make(map[string]int)
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		match := headingPattern.FindStringSubmatch(trimmed)
		if match == nil {
			continue
		}
		text := match[2]
		id := slugify(text)
		if count := seen[id]; count > 0 {
			seen[id] = count + 1
			id = id + "-" + strconv.Itoa(count)
		} else {
			seen[id] = 1
		}
		headings = append(headings, Heading{Depth: len(match[1]), Text: text, ID: id})
	}
	return headings
}

func slugify(text string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(text), "-"), "-")
}
