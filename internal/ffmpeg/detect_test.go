package ffmpeg

import "testing"

func TestParseEncoders(t *testing.T) {
	raw := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ..S... = Slice-level multithreading
 ...X.. = Codec is experimental
 ....B. = Supports draw_horiz_band
 .....D = Supports direct rendering method 1
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V..... h264_qsv             H.264 / AVC / MPEG-4 AVC (Intel Quick Sync Video acceleration) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`)
	names := parseEncoders(raw)
	for _, want := range []string{"libx264", "h264_nvenc", "h264_qsv", "aac"} {
		if !names[want] {
			t.Fatalf("期望解析出 %q，实际 %v", want, names)
		}
	}
	if names["h264_amf"] {
		t.Fatalf("不期望出现未列出的编码器")
	}
	// 表头说明行不应被当作编码器。
	if names["="] || names["video"] {
		t.Fatalf("表头被误解析：%v", names)
	}
}

func TestParseEncoders_Empty(t *testing.T) {
	if names := parseEncoders(nil); len(names) != 0 {
		t.Fatalf("空输入应得到空集合：%v", names)
	}
}
