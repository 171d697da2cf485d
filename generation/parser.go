package generation

import (
	"path"
	"regexp"
	"strings"
)

// ParseOptions 控制文件名推断
type ParseOptions struct {
	// ComponentNames 是提取出的 UI 组件名，用于把代码块对应到组件文件
	ComponentNames []string
	// FrontendFramework 是检测出的前端框架，决定目录布局与扩展名修正
	FrontendFramework string
}

var (
	fenceRe       = regexp.MustCompile("(?s)```([^\n]*)\n(.*?)\n[ \t]*```")
	genericNameRe = regexp.MustCompile(`(?i)^(unnamed|script|output|file|example)(\s|$)`)

	// 块内首行的文件名提示: “// filename: x”、“# filename: x”、“-- filename: x”、“<!-- filename: x -->”
	firstLineHintRe = regexp.MustCompile(`(?i)^\s*(?://|#|--|/\*|<!--)?\s*filename\s*:\s*(\S+?)\s*(?:\*/|-->)?\s*$`)

	kebabBoundaryRe = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	kebabAcronymRe  = regexp.MustCompile(`([A-Z]+)([A-Z][a-z])`)
)

// extensionFor 把语言标签映射到首选扩展名
var extensionFor = map[string]string{
	"typescript": ".ts", "ts": ".ts", "tsx": ".tsx",
	"javascript": ".js", "js": ".js", "jsx": ".jsx",
	"html": ".html", "css": ".css",
	"python": ".py", "py": ".py",
	"java": ".java", "go": ".go", "rust": ".rs",
	"sql": ".sql", "vue": ".vue", "svelte": ".svelte",
	"json": ".json", "yaml": ".yaml", "yml": ".yaml",
	"markdown": ".md", "md": ".md",
	"shell": ".sh", "bash": ".sh", "sh": ".sh",
}

// ParseCodeBlocks 从 LLM 响应中解析围栏代码块并推断文件名。
// 文件名来源优先级：围栏行 filename: 提示 > 块内首行注释提示 >
// 组件名匹配 > 框架与内容启发式 > 兜底名。
func ParseCodeBlocks(text string, opts ParseOptions) []GeneratedFile {
	var files []GeneratedFile

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		lang, hint := parseFenceInfo(m[1])
		code := strings.TrimSpace(m[2])
		if code == "" {
			continue
		}

		if hint == "" {
			hint, code = extractFirstLineHint(code)
		}

		lang = refineJSLang(lang, code, hint, opts.FrontendFramework)

		name := chooseFilename(lang, hint, code, opts)
		name = ensureExtension(name, lang)
		name = cleanRelPath(name)
		if name == "" {
			continue
		}

		files = append(files, GeneratedFile{Path: name, Content: code, Language: lang})
	}

	return files
}

// parseFenceInfo 解析围栏行: 语言标签 + 可选 "filename: x"
func parseFenceInfo(info string) (lang, hint string) {
	info = strings.TrimSpace(info)
	if info == "" {
		return "txt", ""
	}

	if idx := strings.Index(strings.ToLower(info), "filename:"); idx >= 0 {
		hint = strings.TrimSpace(info[idx+len("filename:"):])
		info = strings.TrimSpace(info[:idx])
	}

	fields := strings.Fields(info)
	if len(fields) > 0 {
		lang = strings.ToLower(fields[0])
	}
	if lang == "" {
		lang = "txt"
	}
	return lang, hint
}

// extractFirstLineHint 在块首行查找文件名提示，命中时将该行从代码中剥离
func extractFirstLineHint(code string) (hint, rest string) {
	line, remainder, found := strings.Cut(code, "\n")
	if m := firstLineHintRe.FindStringSubmatch(line); m != nil {
		if found {
			return m[1], strings.TrimSpace(remainder)
		}
		return m[1], ""
	}
	return "", code
}

// refineJSLang 细化模糊的 js 标签: Angular 组件是 TypeScript, React 组件是 JSX,
// 模板与样式块经常也被标成 js。
func refineJSLang(lang, code, hint, framework string) string {
	if lang != "javascript" && lang != "js" {
		return lang
	}

	switch framework {
	case "Angular":
		switch {
		case strings.Contains(code, "@angular/core") ||
			strings.Contains(code, "@Component({") ||
			strings.Contains(code, "templateUrl:") ||
			strings.Contains(code, "styleUrls:"):
			return "typescript"
		case looksLikeHTML(code):
			return "html"
		case looksLikeCSS(code):
			return "css"
		}
	case "React":
		switch {
		case strings.Contains(code, "import React") ||
			strings.Contains(code, "React.createElement(") ||
			(strings.Contains(code, "function ") && strings.Contains(code, "return (")) ||
			(strings.Contains(code, "const ") && strings.Contains(code, "return (")) ||
			strings.Contains(hint, ".jsx"):
			return "jsx"
		case looksLikeCSS(code):
			return "css"
		}
	}
	return lang
}

func looksLikeHTML(code string) bool {
	for _, tag := range []string{"<div", "<span", "<p>", "<form", "<button", "<app-"} {
		if strings.Contains(code, tag) {
			return true
		}
	}
	return false
}

func looksLikeCSS(code string) bool {
	if !strings.Contains(code, "{") || !strings.Contains(code, "}") ||
		!strings.Contains(code, ":") || !strings.Contains(code, ";") {
		return false
	}
	for _, unit := range []string{"px", "em", "rem", "#", "."} {
		if strings.Contains(code, unit) {
			return true
		}
	}
	return false
}

// chooseFilename 按优先级推断文件名
func chooseFilename(lang, hint, code string, opts ParseOptions) string {
	if hint != "" && !genericNameRe.MatchString(hint) {
		return hint
	}

	if name := matchComponentFile(lang, code, opts); name != "" {
		return name
	}

	if name := inferFrameworkFile(lang, code, opts.FrontendFramework); name != "" {
		return name
	}

	if name := inferBackendFile(lang, code); name != "" {
		return name
	}

	if hint != "" {
		return hint
	}
	return "unnamed_code_block." + lang
}

// matchComponentFile 在代码中匹配组件名并生成框架约定的组件文件路径
func matchComponentFile(lang, code string, opts ParseOptions) string {
	flat := strings.ReplaceAll(strings.ToLower(code), "-", "")

	for _, comp := range opts.ComponentNames {
		kebab := kebabCase(comp)
		if kebab == "" || !strings.Contains(flat, strings.ReplaceAll(kebab, "-", "")) {
			continue
		}

		switch opts.FrontendFramework {
		case "Angular":
			switch lang {
			case "typescript", "ts":
				return "src/app/" + kebab + "/" + kebab + ".component.ts"
			case "html":
				return "src/app/" + kebab + "/" + kebab + ".component.html"
			case "css":
				return "src/app/" + kebab + "/" + kebab + ".component.css"
			default:
				return "src/app/" + kebab + "/" + kebab + extensionOrTxt(lang)
			}
		case "React":
			switch lang {
			case "javascript", "js", "jsx":
				return "src/components/" + pascalCase(kebab) + ".jsx"
			case "css":
				return "src/components/" + kebab + ".module.css"
			default:
				return "src/components/" + kebab + extensionOrTxt(lang)
			}
		default:
			return kebab + extensionOrTxt(lang)
		}
	}
	return ""
}

// inferFrameworkFile 识别框架的常见入口与全局文件
func inferFrameworkFile(lang, code, framework string) string {
	switch framework {
	case "Angular":
		switch {
		case strings.Contains(code, "platformBrowserDynamic().bootstrapModule(AppModule)"):
			return "src/main.ts"
		case strings.Contains(code, "NgModule") && strings.Contains(code, "declarations"):
			return "src/app/app.module.ts"
		case strings.Contains(code, "selector: 'app-root'") && strings.Contains(code, "templateUrl"):
			return "src/app/app.component.ts"
		case strings.Contains(code, "<router-outlet>") || strings.Contains(code, "app-root"):
			return "src/app/app.component.html"
		case strings.Contains(code, "body {") || strings.Contains(code, "html {"):
			return "src/styles.css"
		}
		switch lang {
		case "typescript", "ts":
			return "src/app/app.component.ts"
		case "html":
			return "src/app/app.component.html"
		case "css":
			return "src/styles.css"
		}
	case "React":
		switch {
		case strings.Contains(code, "ReactDOM.createRoot"):
			return "src/main.jsx"
		case strings.Contains(code, "function App()") || strings.Contains(code, "const App ="):
			return "src/App.jsx"
		case strings.Contains(code, "body {") || strings.Contains(code, "html {"):
			return "src/index.css"
		}
		switch lang {
		case "javascript", "js", "jsx":
			return "src/App.jsx"
		case "css":
			return "src/App.css"
		}
	}
	return ""
}

var (
	pyModelClassRe      = regexp.MustCompile(`class\s+\w*Model\(`)
	pyViewSetClassRe    = regexp.MustCompile(`class\s+\w*ViewSet\(`)
	pySerializerClassRe = regexp.MustCompile(`class\s+\w*Serializer\(`)
)

// inferBackendFile 按后端语言的内容特征推断文件名
func inferBackendFile(lang, code string) string {
	switch lang {
	case "python", "py":
		switch {
		case strings.Contains(code, "models.Model") || pyModelClassRe.MatchString(code):
			return "models.py"
		case pyViewSetClassRe.MatchString(code) ||
			strings.Contains(code, "APIView") ||
			strings.Contains(code, "APIRouter()"):
			return "views.py"
		case pySerializerClassRe.MatchString(code):
			return "serializers.py"
		case strings.Contains(code, "urlpatterns") || strings.Contains(code, "path("):
			return "urls.py"
		case strings.Contains(code, "FastAPI(") || strings.Contains(code, "from flask import Flask"):
			return "main.py"
		default:
			return "app_script.py"
		}
	case "javascript", "js":
		switch {
		case strings.Contains(code, "express.Router()"):
			return "routes.js"
		case strings.Contains(code, "mongoose.Schema") || strings.Contains(code, "mongoose.model"):
			return "models.js"
		case strings.Contains(code, "app.listen(") ||
			strings.Contains(code, "http.createServer") ||
			strings.Contains(code, "= express()"):
			return "server.js"
		default:
			return "app_script.js"
		}
	case "go":
		if strings.Contains(code, "func main(") {
			return "main.go"
		}
		return "handlers.go"
	case "java":
		return "Controller.java"
	case "sql":
		return "schema.sql"
	}
	return ""
}

// ensureExtension 保证文件名带有语言对应的扩展名
func ensureExtension(name, lang string) string {
	required, ok := extensionFor[lang]
	if !ok {
		return name
	}

	ext := strings.ToLower(path.Ext(name))
	switch {
	case ext == "":
		return name + required
	case ext == ".txt" || ext == ".code":
		return strings.TrimSuffix(name, path.Ext(name)) + required
	}
	return name
}

func extensionOrTxt(lang string) string {
	if ext, ok := extensionFor[lang]; ok {
		return ext
	}
	return "." + lang
}

// cleanRelPath 规范化为不带前导分隔符、不逃逸出根目录的相对路径
func cleanRelPath(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	name = path.Clean(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimPrefix(name, "/")
	for strings.HasPrefix(name, "../") {
		name = strings.TrimPrefix(name, "../")
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// kebabCase 把 CamelCase 组件名转换为 kebab-case
func kebabCase(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = kebabAcronymRe.ReplaceAllString(s, "$1-$2")
	s = kebabBoundaryRe.ReplaceAllString(s, "$1-$2")
	return strings.ToLower(s)
}

// pascalCase 把 kebab-case 转换为 PascalCase
func pascalCase(kebab string) string {
	parts := strings.Split(kebab, "-")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
