package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/conneroisu/tagserve/internal/compiler"
	"github.com/conneroisu/tagserve/internal/registry"
)

// createTestTags writes count tag files of varying size under tags/.
func createTestTags(b *testing.B, count int) afero.Fs {
	b.Helper()
	fs := afero.NewMemMapFs()
	for i := range count {
		var body string
		switch i % 3 {
		case 0:
			body = `<p>{{ .title }}</p>`
		case 1:
			body = `<ul>{{ range .items }}<li>{{ . }}</li>{{ end }}</ul>`
		default:
			body = `{{ if .user }}<b>{{ .user.name }}</b>{{ else }}<i>anonymous</i>{{ end }}`
		}
		path := filepath.Join("tags", fmt.Sprintf("group%d", i%10), fmt.Sprintf("tag%d.tag", i))
		src := fmt.Sprintf("<tag-%d>%s</tag-%d>", i, body, i)
		if err := afero.WriteFile(fs, path, []byte(src), 0o644); err != nil {
			b.Fatal(err)
		}
	}
	return fs
}

func BenchmarkScan(b *testing.B) {
	for _, count := range []int{10, 100, 500} {
		b.Run(fmt.Sprintf("tags-%d", count), func(b *testing.B) {
			fs := createTestTags(b, count)
			b.ResetTimer()
			for range b.N {
				reg := registry.New(compiler.New(), fs, compiler.DefaultOptions())
				s, err := New(reg, fs, "tags/**/*.tag", nil)
				if err != nil {
					b.Fatal(err)
				}
				if _, err := s.Scan(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFiles(b *testing.B) {
	fs := createTestTags(b, 500)
	reg := registry.New(compiler.New(), fs, compiler.DefaultOptions())
	s, err := New(reg, fs, "tags/**/*.tag", nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for range b.N {
		if _, err := s.Files(); err != nil {
			b.Fatal(err)
		}
	}
}
