package catalog

import (
	"encoding/json"
	"strings"

	"vibedj/internal/core"
)

// rawItem mirrors the bridge's search-result shape. Several fields come in
// more than one form depending on the result type, so they decode through
// tolerant wrappers.
type rawItem struct {
	VideoID    string      `json:"videoId"`
	Title      string      `json:"title"`
	Artists    nameList    `json:"artists"`
	Artist     string      `json:"artist"`
	Album      nameOrText  `json:"album"`
	Thumbnails []thumbnail `json:"thumbnails"`
	Thumbnail  string      `json:"thumbnail"`
}

type thumbnail struct {
	URL string `json:"url"`
}

// nameList accepts either [{"name": "..."}, ...] or a plain string.
type nameList []string

func (n *nameList) UnmarshalJSON(data []byte) error {
	var objs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &objs); err == nil {
		for _, o := range objs {
			if o.Name != "" {
				*n = append(*n, o.Name)
			}
		}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "" {
			*n = nameList{s}
		}
		return nil
	}

	// unrecognized shape, treat as absent
	*n = nil
	return nil
}

// nameOrText accepts {"name": "..."} or a plain string.
type nameOrText string

func (n *nameOrText) UnmarshalJSON(data []byte) error {
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*n = nameOrText(obj.Name)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*n = nameOrText(s)
		return nil
	}

	*n = ""
	return nil
}

// parseItem converts one raw search result into a track. Items without a
// video ID are unplayable and dropped.
func parseItem(data json.RawMessage) (core.Track, bool) {
	var item rawItem
	if err := json.Unmarshal(data, &item); err != nil {
		return core.Track{}, false
	}

	if item.VideoID == "" {
		return core.Track{}, false
	}

	artist := strings.Join(item.Artists, ", ")
	if artist == "" {
		artist = item.Artist
	}
	if artist == "" {
		artist = "Unknown"
	}

	thumb := item.Thumbnail
	if thumb == "" && len(item.Thumbnails) > 0 {
		// thumbnails come smallest first
		thumb = item.Thumbnails[len(item.Thumbnails)-1].URL
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Unknown"
	}

	return core.Track{
		VideoID:   item.VideoID,
		Title:     title,
		Artist:    artist,
		Album:     string(item.Album),
		Thumbnail: thumb,
	}, true
}
