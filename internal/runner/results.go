package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mobileci/xtr/internal/plist"
)

// pruneTestSummaries restructures the Attachments directory next to a
// TestSummaries plist. Crash reports always survive. When keepScreenshots is
// set, the screenshots of failed test methods are moved into per-test
// subdirectories along with a TestMethodResult.plist; everything else,
// including the automatic screenshots of passing tests, is removed.
func pruneTestSummaries(summariesPath, attachmentsDir string, keepScreenshots bool) error {
	root, err := plist.NewFile(summariesPath).GetField("TestableSummaries:0:Tests:0")
	if err != nil {
		return fmt.Errorf("parse test summaries %s: %w", summariesPath, err)
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(attachmentsDir), "attachments-*")
	if err != nil {
		return err
	}
	if keepScreenshots {
		if obj, ok := root.(map[string]interface{}); ok {
			collectFailureAttachments(obj, attachmentsDir, tmpDir)
		}
	}
	crashes, _ := filepath.Glob(filepath.Join(attachmentsDir, "*.crash"))
	for _, crash := range crashes {
		_ = os.Rename(crash, filepath.Join(tmpDir, filepath.Base(crash)))
	}
	if err := os.RemoveAll(attachmentsDir); err != nil {
		return err
	}
	return os.Rename(tmpDir, attachmentsDir)
}

// collectFailureAttachments walks the test tree, mirroring the suite
// structure as directories and moving each failed method's screenshots out
// of attachmentsDir into its own directory under parentDir.
func collectFailureAttachments(testObj map[string]interface{}, attachmentsDir, parentDir string) {
	id, _ := testObj["TestIdentifier"].(string)
	dir := filepath.Join(parentDir, strings.NewReplacer("/", "_", ".", "_").Replace(id))
	if subtests, ok := testObj["Subtests"].([]interface{}); ok {
		if len(subtests) == 1 {
			dir = parentDir
		}
		for _, sub := range subtests {
			if m, ok := sub.(map[string]interface{}); ok {
				collectFailureAttachments(m, attachmentsDir, dir)
			}
		}
		return
	}
	if status, _ := testObj["TestStatus"].(string); status == "Success" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = plist.NewFile(filepath.Join(dir, "TestMethodResult.plist")).SetField("", testObj)
	if activities, ok := testObj["ActivitySummaries"].([]interface{}); ok {
		for _, a := range activities {
			if m, ok := a.(map[string]interface{}); ok {
				moveActivityScreenshots(m, attachmentsDir, dir)
			}
		}
	}
}

func moveActivityScreenshots(activity map[string]interface{}, attachmentsDir, testDir string) {
	if _, ok := activity["HasScreenshotData"]; ok {
		uuid, _ := activity["UUID"].(string)
		matches, _ := filepath.Glob(filepath.Join(attachmentsDir, "Screenshot_"+uuid+".*"))
		for _, m := range matches {
			_ = os.Rename(m, filepath.Join(testDir, filepath.Base(m)))
		}
	}
	if subs, ok := activity["SubActivities"].([]interface{}); ok {
		for _, s := range subs {
			if m, ok := s.(map[string]interface{}); ok {
				moveActivityScreenshots(m, attachmentsDir, testDir)
			}
		}
	}
}
