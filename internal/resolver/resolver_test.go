package resolver

import (
	"reflect"
	"testing"

	"github.com/fetchbay/fetchbay/internal/domain/model"
	"github.com/fetchbay/fetchbay/internal/fetcher"
)

func TestBuildLadder_EmptyInput(t *testing.T) {
	if got := BuildLadder(nil); len(got) != 0 {
		t.Errorf("BuildLadder(nil) = %v, want empty ladder", got)
	}
	if got := BuildLadder([]fetcher.Format{}); len(got) != 0 {
		t.Errorf("BuildLadder(empty) = %v, want empty ladder", got)
	}
}

func TestBuildLadder_LargerSizeWinsWithinHeight(t *testing.T) {
	formats := []fetcher.Format{
		{ID: "a", Ext: "mp4", VCodec: "avc1.64", Height: 720, Filesize: 1000},
		{ID: "b", Ext: "mp4", VCodec: "avc1.64", Height: 720, Filesize: 2000},
	}

	ladder := BuildLadder(formats)
	if len(ladder) != 1 {
		t.Fatalf("ladder length = %d, want 1", len(ladder))
	}
	if ladder[0].FormatID != "b" {
		t.Errorf("kept format = %s, want b (larger size)", ladder[0].FormatID)
	}
	if ladder[0].Size != 2000 {
		t.Errorf("kept size = %d, want 2000", ladder[0].Size)
	}
}

func TestBuildLadder_AVCWinsOnSizeTie(t *testing.T) {
	formats := []fetcher.Format{
		{ID: "vp9", Ext: "webm", VCodec: "vp09.00.40.08", Height: 1080, Filesize: 1000},
		{ID: "h264", Ext: "mp4", VCodec: "avc1.640028", Height: 1080, Filesize: 1000},
	}

	ladder := BuildLadder(formats)
	if len(ladder) != 1 {
		t.Fatalf("ladder length = %d, want 1", len(ladder))
	}
	if ladder[0].FormatID != "h264" {
		t.Errorf("kept format = %s, want h264 on size tie", ladder[0].FormatID)
	}
}

func TestBuildLadder_AVCDisplacesLargerIncompatible(t *testing.T) {
	// Player compatibility trumps declared size.
	formats := []fetcher.Format{
		{ID: "vp9", Ext: "webm", VCodec: "vp09.00.40.08", Height: 1080, Filesize: 5000},
		{ID: "h264", Ext: "mp4", VCodec: "avc1.640028", Height: 1080, Filesize: 1000},
	}

	ladder := BuildLadder(formats)
	if ladder[0].FormatID != "h264" {
		t.Errorf("kept format = %s, want h264 over larger vp9", ladder[0].FormatID)
	}

	// And a compatible incumbent is not displaced by a larger
	// incompatible challenger.
	reversed := BuildLadder([]fetcher.Format{formats[1], formats[0]})
	if reversed[0].FormatID != "h264" {
		t.Errorf("kept format = %s after reorder, want h264", reversed[0].FormatID)
	}
}

func TestBuildLadder_FiltersBelowMinHeight(t *testing.T) {
	formats := []fetcher.Format{
		{ID: "tiny", VCodec: "avc1.42", Height: 96, Filesize: 100},
		{ID: "ok", VCodec: "avc1.42", Height: 144, Filesize: 200},
	}

	ladder := BuildLadder(formats)
	if len(ladder) != 1 || ladder[0].FormatID != "ok" {
		t.Errorf("ladder = %v, want only the 144p candidate", ladder)
	}
}

func TestBuildLadder_OrderingAndAudioTail(t *testing.T) {
	formats := []fetcher.Format{
		{ID: "audio-small", Ext: "m4a", VCodec: "none", ACodec: "mp4a.40.2", Filesize: 500},
		{ID: "v360", Ext: "mp4", VCodec: "avc1.42", ACodec: "mp4a.40.2", Height: 360, Filesize: 3000},
		{ID: "v1080", Ext: "mp4", VCodec: "avc1.64", ACodec: "none", Height: 1080, Filesize: 9000},
		{ID: "audio-big", Ext: "webm", VCodec: "none", ACodec: "opus", Filesize: 900},
		{ID: "v720", Ext: "mp4", VCodec: "avc1.4d", ACodec: "none", Height: 720, Filesize: 6000},
	}

	ladder := BuildLadder(formats)

	gotIDs := make([]string, len(ladder))
	for i, c := range ladder {
		gotIDs[i] = c.FormatID
	}
	wantIDs := []string{"v1080", "v720", "v360", "audio-big"}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("ladder order = %v, want %v", gotIDs, wantIDs)
	}

	tail := ladder[len(ladder)-1]
	if tail.Rendition != model.AudioRendition || !tail.IsAudioOnly() {
		t.Errorf("tail = %+v, want single audio candidate", tail)
	}

	if ladder[1].HasAudio {
		t.Error("v720 has no muxed audio but HasAudio = true")
	}
	if !ladder[2].HasAudio {
		t.Error("v360 has muxed audio but HasAudio = false")
	}
}

func TestBuildLadder_AudioOnlyInput(t *testing.T) {
	formats := []fetcher.Format{
		{ID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a.40.2", Filesize: 700},
	}

	ladder := BuildLadder(formats)
	if len(ladder) != 1 || ladder[0].Rendition != model.AudioRendition {
		t.Errorf("ladder = %v, want single audio candidate", ladder)
	}
}

func TestBuildLadder_Deterministic(t *testing.T) {
	formats := []fetcher.Format{
		{ID: "a", VCodec: "avc1.42", Height: 480, Filesize: 100},
		{ID: "b", VCodec: "vp9", Height: 480, Filesize: 100},
		{ID: "c", VCodec: "avc1.42", Height: 1080, Filesize: 900},
		{ID: "d", VCodec: "none", ACodec: "opus", Filesize: 50},
	}

	first := BuildLadder(formats)
	second := BuildLadder(formats)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("BuildLadder not deterministic:\nfirst:  %v\nsecond: %v", first, second)
	}
}

func TestIsAVC(t *testing.T) {
	tests := []struct {
		codec string
		want  bool
	}{
		{"avc1.640028", true},
		{"AVC1.4d401e", true},
		{"h264", true},
		{"vp09.00.40.08", false},
		{"av01.0.08M.08", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsAVC(tt.codec); got != tt.want {
			t.Errorf("IsAVC(%q) = %v, want %v", tt.codec, got, tt.want)
		}
	}
}
