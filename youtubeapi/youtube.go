// Package youtubeapi reports live broadcasts of YouTube channels through the
// YouTube Data API v3, keyed by channel id, for the second stream monitor.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/mcint/nullbot/streams"
)

// Platform is the watch-list partition and metric label for YouTube.
const Platform = "youtube"

// maxIDs is the API's limit on ids per channels.list / videos.list call.
const maxIDs = 50

// Provider implements streams.Provider and streams.Validator on top of the Data API.
type Provider struct {
	svc *yt.Service
}

// New builds a Provider authenticated with an API key. Extra options (endpoint,
// HTTP client) are appended after the key.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Provider, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Provider{svc: svc}, nil
}

func (p *Provider) Platform() string { return Platform }

// Validate returns the channel ids that exist.
func (p *Provider) Validate(ctx context.Context, ids []string) ([]string, error) {
	var out []string
	for _, chunk := range chunks(ids, maxIDs) {
		resp, err := p.svc.Channels.List([]string{"id"}).Id(chunk...).MaxResults(maxIDs).Context(ctx).Do()
		if err != nil {
			return nil, classify("list channels", err)
		}
		for _, c := range resp.Items {
			out = append(out, c.Id)
		}
	}
	return out, nil
}

// LiveStreams searches each channel for a live broadcast, then looks up the
// actual start times of the broadcasts it found in one batched videos.list.
func (p *Provider) LiveStreams(ctx context.Context, channelIDs []string) ([]streams.Snapshot, error) {
	byVideo := make(map[string]*streams.Snapshot)
	var videoIDs []string
	for _, ch := range channelIDs {
		resp, err := p.svc.Search.List([]string{"id", "snippet"}).
			ChannelId(ch).
			EventType("live").
			Type("video").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return nil, classify("search live", err)
		}
		for _, item := range resp.Items {
			if item.Id == nil || item.Id.VideoId == "" {
				continue
			}
			snap := &streams.Snapshot{Name: ch, URL: WatchURL(item.Id.VideoId)}
			if item.Snippet != nil {
				snap.Title = item.Snippet.Title
				snap.DisplayName = item.Snippet.ChannelTitle
			}
			byVideo[item.Id.VideoId] = snap
			videoIDs = append(videoIDs, item.Id.VideoId)
		}
	}

	for _, chunk := range chunks(videoIDs, maxIDs) {
		resp, err := p.svc.Videos.List([]string{"liveStreamingDetails"}).Id(chunk...).Context(ctx).Do()
		if err != nil {
			return nil, classify("list videos", err)
		}
		for _, v := range resp.Items {
			snap, ok := byVideo[v.Id]
			if !ok || v.LiveStreamingDetails == nil {
				continue
			}
			started, err := time.Parse(time.RFC3339, v.LiveStreamingDetails.ActualStartTime)
			if err != nil {
				// left zero, so the monitor treats the broadcast as stale
				slog.Debug("youtube broadcast without start time", slog.String("video", v.Id), slog.Any("err", err))
				continue
			}
			snap.StartedAt = started
		}
	}

	out := make([]streams.Snapshot, 0, len(videoIDs))
	for _, id := range videoIDs {
		out = append(out, *byVideo[id])
	}
	return out, nil
}

// WatchURL is the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// classify maps API failures onto the provider error kinds: an HTTP status or an
// undecodable body is permanent, anything else (dial, timeout) is transient.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return streams.Permanent(op, gerr.Code, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return streams.Permanent(op, 0, err)
	}
	return streams.Transient(op, err)
}

func chunks(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
