package stage

import "testing"

func TestWeightsCoverEveryStage(t *testing.T) {
	total := 0
	for _, name := range Order {
		w, ok := Weights[name]
		if !ok {
			t.Fatalf("stage %s has no weight", name)
		}
		if w <= 0 {
			t.Fatalf("stage %s has non-positive weight %d", name, w)
		}
		total += w
	}
	if total != 100 {
		t.Fatalf("weights must sum to 100, got %d", total)
	}
}

func TestLocalClassification(t *testing.T) {
	if !Local(VAD) || !Local(Enhancement) {
		t.Fatal("vad and enhancement run on the local pool")
	}
	if Local(Transcription) || Local(Extraction) || Local(CalendarSync) {
		t.Fatal("network stages must not claim the local pool")
	}
}
