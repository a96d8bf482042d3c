package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/Akasha/internal/dedup"
	"github.com/BTreeMap/Akasha/internal/gowa"
	"github.com/BTreeMap/Akasha/internal/models"
)

// MediaFetcher resolves the bytes of media messages. GoWA auto-downloads
// media to its own storage and reports the file path in the webhook; the
// fetch chain prefers those paths (webhook first, then cached from earlier
// webhooks) and falls back to the on-demand download API, which works even
// when auto-download is disabled.
type MediaFetcher struct {
	gateway gowa.Gateway
	paths   *dedup.PathCache
}

// NewMediaFetcher creates a fetcher over the gateway. The path cache may be
// nil, disabling cached-path lookups.
func NewMediaFetcher(gateway gowa.Gateway, paths *dedup.PathCache) *MediaFetcher {
	return &MediaFetcher{gateway: gateway, paths: paths}
}

// CachePath remembers the gateway storage path for a media message so later
// replies quoting it can resolve the bytes without the download API.
func (f *MediaFetcher) CachePath(id, path string) {
	if f.paths == nil {
		return
	}
	f.paths.Put(id, path)
}

// Fetch downloads the media attached to the event itself. A nil error
// guarantees non-empty data; failures carry a *models.MediaFetchError.
func (f *MediaFetcher) Fetch(ctx context.Context, event *models.WebhookEvent) ([]byte, string, error) {
	messageID := event.MessageID()

	if event.FilePath != "" {
		data, mime, err := f.gateway.DownloadMediaFromPath(ctx, event.FilePath)
		if err == nil {
			slog.Info("MediaFetcher.Fetch: downloaded from webhook path", "mime", mime, "bytes", len(data))
			return data, mime, nil
		}
		slog.Warn("MediaFetcher.Fetch: webhook path download failed", "error", err, "file_path", event.FilePath)
	}

	if path, ok := f.cachedPath(messageID); ok && path != event.FilePath {
		data, mime, err := f.gateway.DownloadMediaFromPath(ctx, path)
		if err == nil {
			slog.Info("MediaFetcher.Fetch: downloaded from cached path", "mime", mime, "bytes", len(data))
			return data, mime, nil
		}
		slog.Warn("MediaFetcher.Fetch: cached path download failed", "error", err, "file_path", path)
	}

	data, mime, err := f.gateway.DownloadMedia(ctx, messageID, event.DownloadJID())
	if err != nil {
		return nil, "", &models.MediaFetchError{MessageID: messageID, Err: err}
	}
	slog.Info("MediaFetcher.Fetch: downloaded via API", "mime", mime, "bytes", len(data))
	return data, mime, nil
}

// FetchQuoted fetches the media of the message this event replies to, so a
// "what's in this picture?" reply can carry the picture. Best-effort: a miss
// returns nil data and the reply proceeds text-only.
func (f *MediaFetcher) FetchQuoted(ctx context.Context, event *models.WebhookEvent) ([]byte, string) {
	replyID := event.ReplyID()
	if replyID == "" {
		return nil, ""
	}

	if event.FilePath != "" {
		data, mime, err := f.gateway.DownloadMediaFromPath(ctx, event.FilePath)
		if err == nil {
			slog.Info("MediaFetcher.FetchQuoted: downloaded from webhook path", "mime", mime, "bytes", len(data))
			return data, mime
		}
		slog.Warn("MediaFetcher.FetchQuoted: webhook path download failed", "error", err, "file_path", event.FilePath)
	}

	if path, ok := f.cachedPath(replyID); ok && path != event.FilePath {
		data, mime, err := f.gateway.DownloadMediaFromPath(ctx, path)
		if err == nil {
			slog.Info("MediaFetcher.FetchQuoted: downloaded from cached path", "mime", mime, "bytes", len(data))
			return data, mime
		}
		slog.Warn("MediaFetcher.FetchQuoted: cached path download failed", "error", err, "file_path", path)
	}

	data, mime, err := f.gateway.DownloadMedia(ctx, replyID, event.DownloadJID())
	if err != nil {
		slog.Warn("MediaFetcher.FetchQuoted: download API failed", "error", err, "message_id", replyID)
		return nil, ""
	}
	slog.Info("MediaFetcher.FetchQuoted: downloaded via API", "mime", mime, "bytes", len(data))
	return data, mime
}

func (f *MediaFetcher) cachedPath(id string) (string, bool) {
	if f.paths == nil {
		return "", false
	}
	return f.paths.Get(id)
}
