package generation

// GeneratedFile 单个生成的源码文件
type GeneratedFile struct {
	// Path 是相对路径，可以包含子目录
	Path string
	// Content 是文件内容
	Content string
	// Language 是围栏代码块的语言标签
	Language string
}

// FileSet 一次生成调用产出的有序文件集合
// 路径重复时后写入的文件覆盖先写入的。
type FileSet struct {
	files []GeneratedFile
}

// NewFileSet 创建空文件集
func NewFileSet() *FileSet {
	return &FileSet{}
}

// Add 添加文件，同路径覆盖
func (fs *FileSet) Add(f GeneratedFile) {
	if f.Path == "" {
		return
	}
	for i := range fs.files {
		if fs.files[i].Path == f.Path {
			fs.files[i] = f
			return
		}
	}
	fs.files = append(fs.files, f)
}

// Files 返回所有文件，保持加入顺序
func (fs *FileSet) Files() []GeneratedFile {
	return fs.files
}

// Len 返回文件数量
func (fs *FileSet) Len() int {
	return len(fs.files)
}

// Prefix 给所有文件路径加上目录前缀
func (fs *FileSet) Prefix(dir string) {
	if dir == "" {
		return
	}
	for i := range fs.files {
		fs.files[i].Path = dir + "/" + fs.files[i].Path
	}
}

// Merge 把另一个文件集的所有文件并入当前集合
func (fs *FileSet) Merge(other *FileSet) {
	if other == nil {
		return
	}
	for _, f := range other.files {
		fs.Add(f)
	}
}
