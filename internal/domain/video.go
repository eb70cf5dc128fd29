package domain

// VideoFile 是扫描阶段对一个候选输入的快照（只 stat，不读内容）。
//
// 不变量（实现必须遵守）：
// - AbsPath 必须是 clean + absolute
// - Size/ModUnix 取自同一次 stat：probe 缓存用 (路径, 大小, mtime) 做键，
//   三者不一致会造成缓存误命中
// - Base 不含扩展名，产物命名 compressed_<Base>.mp4 直接基于它
type VideoFile struct {
	AbsPath string
	RelPath string
	Base    string // 不含扩展名的文件名
	Ext     string // ".mp4"（统一小写）
	Size    int64
	ModUnix int64
}
