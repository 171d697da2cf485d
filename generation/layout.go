package generation

import (
	"path"
	"regexp"
	"strings"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// slug 把框架/语言名转成目录安全的形式
// "Express.js" -> "express_js", "HTML/CSS/JS Default" -> "html_css_js_default"
func slug(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "_")
	return strings.Trim(s, "_")
}

// assembleFileSet 把三个层的生成结果组装成最终的文件集。
// 解析不出任何代码块的层退回单个原始文本文件, 保证用户总能拿到模型输出。
func assembleFileSet(d *draft) *FileSet {
	fs := NewFileSet()

	if d.FrontendCode != "" {
		base := "frontend_" + slug(d.Frontend)
		parsed := ParseCodeBlocks(d.FrontendCode, ParseOptions{
			ComponentNames:    d.Components,
			FrontendFramework: d.Frontend,
		})
		if len(parsed) == 0 {
			fs.Add(GeneratedFile{Path: base + "/frontend_output.txt", Content: strings.TrimSpace(d.FrontendCode)})
		} else {
			for _, f := range parsed {
				name := f.Path
				if !strings.Contains(name, "/") {
					name = placeFrontendFile(d.Frontend, name)
				}
				f.Path = base + "/" + name
				fs.Add(f)
			}
		}
	}

	if d.BackendCode != "" {
		base := "backend_" + slug(d.Language) + "_" + slug(d.Backend)
		parsed := ParseCodeBlocks(d.BackendCode, ParseOptions{})
		if len(parsed) == 0 {
			fs.Add(GeneratedFile{Path: base + "/backend_api.txt", Content: strings.TrimSpace(d.BackendCode)})
		} else {
			hasReqs := false
			for _, f := range parsed {
				if path.Base(f.Path) == "requirements.txt" {
					hasReqs = true
				}
				f.Path = base + "/" + f.Path
				fs.Add(f)
			}
			if !hasReqs && strings.EqualFold(d.Language, "python") {
				if reqs := requirementsFor(d.Backend); reqs != "" {
					fs.Add(GeneratedFile{Path: base + "/requirements.txt", Content: reqs})
				}
			}
		}
	}

	if d.SQLCode != "" {
		content := extractSQL(d.SQLCode)
		if content != "" {
			fs.Add(GeneratedFile{Path: "database/schema.sql", Content: content, Language: "sql"})
		}
	}

	return fs
}

// extractSQL 拼接响应中所有围栏块的内容, 没有围栏时退回原始文本
func extractSQL(raw string) string {
	blocks := ParseCodeBlocks(raw, ParseOptions{})
	if len(blocks) == 0 {
		return strings.TrimSpace(raw)
	}

	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Content)
	}
	return strings.Join(parts, "\n\n")
}

// placeFrontendFile 按框架约定给没有目录的文件名补全路径
func placeFrontendFile(framework, name string) string {
	switch framework {
	case "React":
		switch {
		case name == "index.html":
			return "public/" + name
		case strings.HasPrefix(name, "App.") ||
			strings.HasPrefix(name, "index.") ||
			strings.HasPrefix(name, "main."):
			return "src/" + name
		default:
			return "src/components/" + name
		}
	case "Angular":
		switch {
		case name == "app.module.ts" || strings.HasPrefix(name, "app.component."):
			return "src/app/" + name
		case name == "main.ts" || name == "styles.css":
			return "src/" + name
		case name == "index.html":
			return name
		default:
			// login-form.component.ts -> src/app/login-form/
			dir, _, _ := strings.Cut(name, ".")
			if dir == "" {
				return "src/app/" + name
			}
			return "src/app/" + dir + "/" + name
		}
	case "Vue", "Svelte":
		switch {
		case name == "index.html":
			return name
		case strings.HasPrefix(name, "App.") || strings.HasPrefix(name, "main."):
			return "src/" + name
		default:
			return "src/components/" + name
		}
	default:
		return name
	}
}

// requirementsFor 为 Python 后端补一份最小依赖清单
func requirementsFor(backend string) string {
	switch backend {
	case "FastAPI":
		return "fastapi\nuvicorn[standard]\npython-multipart\n"
	case "Flask":
		return "flask\n"
	case "Django":
		return "django\ndjangorestframework\n"
	default:
		return ""
	}
}
