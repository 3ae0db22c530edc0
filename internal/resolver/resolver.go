// Package resolver turns raw fetcher format records into a ranked,
// deduplicated ladder of selectable renditions.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/fetcher"
)

// MinVideoHeight is the threshold below which video records are
// discarded as noise.
const MinVideoHeight = 144

// BuildLadder produces the candidate ladder for a metadata dump: one
// best candidate per video height, sorted highest first, with at most
// one audio-only candidate appended at the tail. Pure and deterministic;
// empty input yields an empty ladder, which callers must treat as "no
// usable rendition".
func BuildLadder(formats []fetcher.Format) []model.FormatCandidate {
	byHeight := make(map[int]fetcher.Format)
	var bestAudio fetcher.Format
	var haveAudio bool

	for _, f := range formats {
		if !f.HasVideo() {
			if !f.HasAudio() {
				continue
			}
			if !haveAudio || f.Size() > bestAudio.Size() {
				bestAudio = f
				haveAudio = true
			}
			continue
		}

		if f.Height < MinVideoHeight {
			continue
		}

		incumbent, ok := byHeight[f.Height]
		if !ok || displaces(f, incumbent) {
			byHeight[f.Height] = f
		}
	}

	heights := make([]int, 0, len(byHeight))
	for h := range byHeight {
		heights = append(heights, h)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))

	ladder := make([]model.FormatCandidate, 0, len(heights)+1)
	for _, h := range heights {
		f := byHeight[h]
		ladder = append(ladder, model.FormatCandidate{
			FormatID:    f.ID,
			Ext:         f.Ext,
			Rendition:   fmt.Sprintf("%dp", h),
			Size:        f.Size(),
			Height:      h,
			QualityRank: h,
			HasAudio:    f.HasAudio(),
			Codec:       f.VCodec,
		})
	}

	if haveAudio {
		ladder = append(ladder, model.FormatCandidate{
			FormatID:  bestAudio.ID,
			Ext:       bestAudio.Ext,
			Rendition: model.AudioRendition,
			Size:      bestAudio.Size(),
			HasAudio:  true,
			Codec:     bestAudio.ACodec,
		})
	}

	return ladder
}

// displaces reports whether the challenger replaces the incumbent within
// a height group. Player compatibility decides first: an H.264/AVC
// record displaces a non-compatible one regardless of declared size,
// since the delivery-channel player is the constraint, not bitrate.
// Among records of equal compatibility the larger declared size wins;
// ties keep the incumbent.
func displaces(challenger, incumbent fetcher.Format) bool {
	ca, ia := IsAVC(challenger.VCodec), IsAVC(incumbent.VCodec)
	if ca != ia {
		return ca
	}
	return challenger.Size() > incumbent.Size()
}

// IsAVC reports whether a codec tag is H.264/AVC-compatible.
func IsAVC(codec string) bool {
	codec = strings.ToLower(codec)
	return strings.HasPrefix(codec, "avc1") || strings.HasPrefix(codec, "h264")
}
