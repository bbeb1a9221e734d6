package gen

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"golang.org/x/tools/imports"
)

//go:embed templates/*.go.tmpl
var templateFS embed.FS

// Generator renders the methods of one package.
type Generator interface {
	Generate(cfg *Config, pkg PackageInfo) (string, error)
}

// Formatter formats generated Go code and organizes imports.
type Formatter interface {
	Format(filename string, src []byte) ([]byte, error)
}

// FileWriter writes generated code to disk.
type FileWriter interface {
	Write(filename string, data []byte) error
}

type generatorImpl struct {
	formatter Formatter
	writer    FileWriter
	tmpl      *template.Template
}

type goimportsFormatter struct{}

type fileWriter struct{}

type templateData struct {
	Package  string
	HasEnums bool
	Types    []TypeDecl
}

// New creates a code generator.
func New(f Formatter, w FileWriter) Generator {
	tmpl := template.Must(template.New("").ParseFS(templateFS, "templates/*.go.tmpl"))
	return &generatorImpl{formatter: f, writer: w, tmpl: tmpl}
}

// NewGoimportsFormatter creates a formatter backed by goimports.
func NewGoimportsFormatter() Formatter {
	return &goimportsFormatter{}
}

// NewFileWriter creates a plain file writer.
func NewFileWriter() FileWriter {
	return &fileWriter{}
}

// Generate writes the file for pkg and returns its path.
func (g *generatorImpl) Generate(cfg *Config, pkg PackageInfo) (string, error) {
	if len(pkg.Types) == 0 {
		return "", fmt.Errorf("package %q has no types to generate", pkg.Path)
	}

	data := templateData{Package: pkg.Name, Types: pkg.Types}
	for _, t := range pkg.Types {
		data.HasEnums = data.HasEnums || t.IsEnum()
	}

	var buf bytes.Buffer
	if err := g.tmpl.ExecuteTemplate(&buf, "typeinfo.go.tmpl", data); err != nil {
		return "", fmt.Errorf("template: %w", err)
	}

	filename := filepath.Join(pkg.Dir, cfg.Output)
	formatted, err := g.formatter.Format(filename, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("format: %w", err)
	}
	if err := g.writer.Write(filename, formatted); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return filename, nil
}

func (f *goimportsFormatter) Format(filename string, src []byte) ([]byte, error) {
	return imports.Process(filename, src, nil)
}

func (w *fileWriter) Write(filename string, data []byte) error {
	return os.WriteFile(filename, data, 0o644)
}
