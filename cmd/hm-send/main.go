// hm-send writes a sequenced trigger file for the orchestrator to pick
// up: the body is wrapped in the "(ROLE #N): ..." wire form with the
// sender's next outbound sequence, tagged with a fallback message id, and
// dropped atomically into the trigger directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hivemind/orchestrator/internal/config"
	"github.com/hivemind/orchestrator/internal/delivery"
)

func main() {
	var (
		from  = flag.String("from", "", "sender role (required)")
		to    = flag.String("to", "", "target: role name, all, workers or others-<role> (required)")
		msg   = flag.String("m", "", "message body (required unless -reset)")
		reset = flag.Bool("reset", false, "send a session-reset marker (restarts sequencing)")
	)
	flag.Parse()

	if *from == "" || *to == "" || (*msg == "" && !*reset) {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg, err := config.Load(os.Getenv("HIVEMIND_CONFIG"))
	if err != nil {
		fatal("load config: %v", err)
	}

	sender := strings.ToLower(*from)
	sequencer := delivery.NewSequencer(cfg.Delivery.StatePath, nil)
	if err := sequencer.Load(); err != nil {
		fatal("load message state: %v", err)
	}

	body := *msg
	if *reset {
		// Restart sequencing: the marker at seq 1 makes receivers zero
		// their watermark for this sender.
		sequencer.Reset()
		body = strings.TrimSpace(delivery.SessionResetMarker + " " + body)
	}
	seq := sequencer.Next(sender)

	content := fmt.Sprintf("[HM-MESSAGE-ID:%s]\n%s",
		uuid.NewString(), delivery.Format(sender, seq, body))

	path := filepath.Join(cfg.Trigger.Dir, strings.ToLower(*to)+".txt")
	if err := writeTrigger(path, content); err != nil {
		fatal("write trigger: %v", err)
	}
	fmt.Printf("sent #%d from %s to %s\n", seq, sender, *to)
}

// writeTrigger drops the file atomically so the watcher never reads a
// partial write.
func writeTrigger(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "hm-send: "+format+"\n", args...)
	os.Exit(1)
}
