package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// DetectEncoders 枚举当前 ffmpeg 构建支持的编码器名集合。
//
// `ffmpeg -encoders` 的输出在 "------" 分隔行之后是
// " V....D h264_nvenc   NVIDIA NVENC H.264 encoder" 这样的行，
// 第二列是编码器名。构建裁剪、驱动缺失都不在此可见，只能说明“编译进去了”。
func DetectEncoders(ctx context.Context, ffmpegPath string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return parseEncoders(stdout.Bytes()), nil
}

func parseEncoders(raw []byte) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	inList := false
	for sc.Scan() {
		line := sc.Text()
		if !inList {
			if strings.Contains(line, "------") {
				inList = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// fields[0] 是能力标志（V..... 等），fields[1] 才是名字。
		names[strings.ToLower(fields[1])] = true
	}
	return names
}
