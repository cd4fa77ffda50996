package cmd

import "testing"

func TestReadAnswer(t *testing.T) {
	lines := make(chan string, 4)
	lines <- "Osmosis is the movement of water"
	lines <- "across a partially permeable membrane."
	lines <- " . "
	lines <- "next"
	text, stop := readAnswer(lines, make(chan struct{}))
	if stop || text != "Osmosis is the movement of water\nacross a partially permeable membrane." {
		t.Errorf("readAnswer = %q, %v", text, stop)
	}
}

func TestReadAnswerStops(t *testing.T) {
	lines := make(chan string, 1)
	lines <- "half an answer"
	close(lines)
	if text, stop := readAnswer(lines, make(chan struct{})); !stop || text != "half an answer" {
		t.Errorf("closed input = %q, %v", text, stop)
	}

	expired := make(chan struct{})
	close(expired)
	if _, stop := readAnswer(make(chan string), expired); !stop {
		t.Error("expired exam did not stop reading")
	}
}
