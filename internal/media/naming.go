package media

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/memohai/socialdesk/internal/channel"
)

const maxFilenameLen = 100

var unsafeFilenameChars = regexp.MustCompile(`[^\w.\-]`)

// DetectMediaType classifies a download by its Content-Type, then the type
// declared by the platform, then the URL extension. Some platforms deliver
// voice notes as video/mp4; those stay audio when declared so.
func DetectMediaType(contentType, declared, rawURL string) string {
	mt := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == string(channel.KindAudio) && mt == "video/mp4" {
		return declared
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return string(channel.KindImage)
	case strings.HasPrefix(mt, "video/"):
		return string(channel.KindVideo)
	case strings.HasPrefix(mt, "audio/"):
		return string(channel.KindAudio)
	case mt != "" && mt != "application/octet-stream" && mt != "binary/octet-stream":
		return string(channel.KindDocument)
	}
	if declared != "" {
		return declared
	}
	return channel.MediaTypeFromURL(rawURL)
}

// SanitizeFilename derives a safe file name from the download URL. URLs
// without a usable name and extension get "<type>_<unix><ext>".
func SanitizeFilename(rawURL, mediaType string, now time.Time) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "." || name == "/" || path.Ext(name) == "" {
		name = fmt.Sprintf("%s_%d%s", mediaType, now.Unix(), defaultExtension(mediaType))
	}
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	if len(name) > maxFilenameLen {
		ext := path.Ext(name)
		if len(ext) >= maxFilenameLen {
			ext = ""
		}
		name = name[:maxFilenameLen-len(ext)] + ext
	}
	return name
}

func defaultExtension(mediaType string) string {
	switch mediaType {
	case string(channel.KindImage):
		return ".jpg"
	case string(channel.KindVideo):
		return ".mp4"
	case string(channel.KindAudio):
		return ".mp3"
	default:
		return ".bin"
	}
}

// StorageKey places a message's attachment below its account and conversation.
// The attempt id keeps concurrent downloads of one message apart.
func StorageKey(job Job, attempt, filename string) string {
	name := job.MessageID + "_" + filename
	if attempt != "" {
		name = job.MessageID + "_" + attempt + "_" + filename
	}
	return path.Join(job.AccountID, job.ConversationID, name)
}
