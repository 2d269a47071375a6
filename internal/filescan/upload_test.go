package filescan

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sitewarden/sitewarden/internal/model"
)

func uploadConfigMonitor(t *testing.T) (*Monitor, *memoryEventStore) {
	monitor, _, events := newMonitorForTest(t, scanConfig(t.TempDir()))
	return monitor, events
}

func TestScanUploadBlocksScriptExtensions(t *testing.T) {
	monitor, events := uploadConfigMonitor(t)
	ctx := context.Background()

	for _, name := range []string{"a.php", "b.PHP", "c.phtml", "d.php5", "e.pht"} {
		err := monitor.ScanUpload(ctx, name, []byte("harmless"), "203.0.113.1")
		if !errors.Is(err, ErrBlockedExtension) {
			t.Errorf("ScanUpload(%q) = %v, want ErrBlockedExtension", name, err)
		}
	}
	if got := events.byType(model.EventUploadBlocked); len(got) != 5 {
		t.Errorf("blocked events = %d, want 5", len(got))
	}
}

func TestScanUploadDetectsShellSignatures(t *testing.T) {
	monitor, events := uploadConfigMonitor(t)
	ctx := context.Background()

	bodies := [][]byte{
		[]byte(`<img>eval($_POST["x"]);`),
		[]byte(`data = Base64_Decode(chunk)`),
		[]byte(`shell_exec("ls")`),
		[]byte(`preg_replace("/x/e", $in, $out)`),
	}
	for _, body := range bodies {
		err := monitor.ScanUpload(ctx, "image.jpg", body, "203.0.113.1")
		if !errors.Is(err, ErrMaliciousContent) {
			t.Errorf("ScanUpload(%q) = %v, want ErrMaliciousContent", body, err)
		}
	}

	detected := events.byType(model.EventShellSignatureDetected)
	if len(detected) != len(bodies) {
		t.Fatalf("signature events = %d, want %d", len(detected), len(bodies))
	}
	if detected[0].Severity != model.SeverityCritical {
		t.Errorf("severity = %d, want %d", detected[0].Severity, model.SeverityCritical)
	}
}

func TestScanUploadCallUserFuncNeedsEval(t *testing.T) {
	monitor, _ := uploadConfigMonitor(t)
	ctx := context.Background()

	benign := []byte(`call_user_func($callback, $arg);`)
	if err := monitor.ScanUpload(ctx, "notes.txt", benign, "203.0.113.1"); err != nil {
		t.Errorf("ScanUpload(benign call_user_func) = %v, want nil", err)
	}

	trampoline := []byte(`call_user_func("eval", $_POST["c"]);`)
	if err := monitor.ScanUpload(ctx, "notes.txt", trampoline, "203.0.113.1"); !errors.Is(err, ErrMaliciousContent) {
		t.Errorf("ScanUpload(eval trampoline) = %v, want ErrMaliciousContent", err)
	}
}

func TestScanUploadIgnoresSignaturesBeyondLimit(t *testing.T) {
	monitor, _ := uploadConfigMonitor(t)

	body := append(bytes.Repeat([]byte("A"), signatureScanLimit), []byte(`eval(`)...)
	if err := monitor.ScanUpload(context.Background(), "big.jpg", body, "203.0.113.1"); err != nil {
		t.Errorf("ScanUpload = %v, want nil for signature past the scan limit", err)
	}
}

func TestScanUploadAcceptsCleanFile(t *testing.T) {
	monitor, events := uploadConfigMonitor(t)

	if err := monitor.ScanUpload(context.Background(), "photo.jpg", []byte{0xFF, 0xD8, 0xFF}, "203.0.113.1"); err != nil {
		t.Errorf("ScanUpload = %v, want nil", err)
	}
	if len(events.events) != 0 {
		t.Errorf("events = %d, want 0 for clean upload", len(events.events))
	}
}

func TestScanUploadHonorsAllowlist(t *testing.T) {
	cfg := scanConfig(t.TempDir())
	cfg.AllowedUploadExtensions = []string{"php"}
	monitor, _, _ := newMonitorForTest(t, cfg)

	if err := monitor.ScanUpload(context.Background(), "legacy.php", []byte("<?php // vetted"), "203.0.113.1"); err != nil {
		t.Errorf("ScanUpload = %v, want nil when extension is allowlisted", err)
	}
}
