package storage

import "path"

// RelativeFilePath 把 FileInfo 映射为层级化的存储相对路径。
// 纯函数，无 I/O：相同输入在任何进程、任何配置下得到相同结果。
// 标识符的前四个字符展开成两级目录，避免单目录下文件过多。
func RelativeFilePath(info FileInfo) string {
	a, b, rest := fanOut(info.MediaID)

	switch {
	case !info.Remote() && info.Variant == "":
		return path.Join("local_content", a, b, rest)
	case !info.Remote():
		return path.Join("local_thumbnails", a, b, rest, info.Variant)
	case info.Variant == "":
		return path.Join("remote_content", info.Server, a, b, rest)
	default:
		return path.Join("remote_thumbnails", info.Server, a, b, rest, info.Variant)
	}
}

// fanOut 拆分媒体标识。过短的标识走独立前缀，保证与正常标识不冲突。
func fanOut(mediaID string) (string, string, string) {
	if len(mediaID) < 5 {
		return "short", mediaID, "content"
	}
	return mediaID[:2], mediaID[2:4], mediaID[4:]
}
