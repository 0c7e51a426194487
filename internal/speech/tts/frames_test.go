package tts

import "testing"

func TestSplitFramesExactMultiple(t *testing.T) {
	pcm := make([]byte, 1920) // 2 frames of 960 bytes
	for i := range pcm {
		pcm[i] = byte(i % 7)
	}
	frames := SplitFrames(pcm, 960)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if len(f) != 960 {
			t.Fatalf("expected 960-byte frame, got %d", len(f))
		}
	}
}

func TestSplitFramesPadsShortRemainder(t *testing.T) {
	pcm := make([]byte, 100)
	for i := range pcm {
		pcm[i] = 0xAB
	}
	frames := SplitFrames(pcm, 960)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one padded frame, got %d", len(frames))
	}
	if len(frames[0]) != 960 {
		t.Fatalf("expected padded frame to be 960 bytes, got %d", len(frames[0]))
	}
	for i := 100; i < 960; i++ {
		if frames[0][i] != 0 {
			t.Fatalf("expected zero padding past byte 100, got %x at %d", frames[0][i], i)
		}
	}
	for i := 0; i < 100; i++ {
		if frames[0][i] != 0xAB {
			t.Fatalf("expected original content preserved at %d", i)
		}
	}
}

func TestSplitFramesEmptyInputYieldsNoFrames(t *testing.T) {
	if frames := SplitFrames(nil, 960); frames != nil {
		t.Fatalf("expected nil frames for empty input, got %v", frames)
	}
}

func TestSplitFramesNonEmptyNeverYieldsZeroFrames(t *testing.T) {
	frames := SplitFrames([]byte{1}, 960)
	if len(frames) == 0 {
		t.Fatal("non-empty text must never produce zero frames")
	}
}
