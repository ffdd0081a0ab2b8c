package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mobileci/xtr/internal/xcode"
)

// XcresultExposer copies the diagnostics and failure attachments out of an
// .xcresult bundle through `xcrun xcresulttool`. Xcode 11 is the first
// version that produces the object-graph format xcresulttool reads.
type XcresultExposer struct {
	Xcode  *xcode.Info
	Logger *zap.SugaredLogger
}

// Expose exports the action's diagnostics directory and the attachments of
// every non-passing test into outputDir.
func (x *XcresultExposer) Expose(ctx context.Context, xcresultPath, outputDir string) error {
	x.logger().Debugw("exposing result bundle", "path", xcresultPath, "outputDir", outputDir)
	root, err := x.get(ctx, xcresultPath, "")
	if err != nil {
		return err
	}
	var actionResult map[string]interface{}
	for _, v := range jsonValues(root, "actions") {
		action, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if jsonString(action, "_type", "_name") == "ActionRecord" {
			actionResult, _ = action["actionResult"].(map[string]interface{})
			break
		}
	}
	if actionResult == nil {
		return fmt.Errorf("no ActionRecord in result bundle %s", xcresultPath)
	}
	if id := jsonString(actionResult, "diagnosticsRef", "id", "_value"); id != "" {
		if err := x.export(ctx, xcresultPath, outputDir, "directory", id); err != nil {
			return err
		}
	}
	return x.exposeFailureAttachments(ctx, xcresultPath, outputDir, actionResult)
}

func (x *XcresultExposer) exposeFailureAttachments(ctx context.Context, xcresultPath, outputDir string, actionResult map[string]interface{}) error {
	testsID := jsonString(actionResult, "testsRef", "id", "_value")
	if testsID == "" {
		return nil
	}
	plans, err := x.get(ctx, xcresultPath, testsID)
	if err != nil {
		return err
	}
	summaries := jsonValues(plans, "summaries")
	if len(summaries) == 0 {
		return nil
	}
	summary, _ := summaries[0].(map[string]interface{})
	testables := jsonValues(summary, "testableSummaries")
	if len(testables) == 0 {
		return nil
	}
	testable, _ := testables[0].(map[string]interface{})
	// A run that crashed before loading the bundle has no test tree.
	tests := jsonValues(testable, "tests")
	if len(tests) == 0 {
		return nil
	}
	for _, refID := range failureSummaryRefs(tests[0]) {
		result, err := x.get(ctx, xcresultPath, refID)
		if err != nil {
			return err
		}
		testID := jsonString(result, "identifier", "_value")
		for _, a := range jsonValues(result, "activitySummaries") {
			activity, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			for _, att := range jsonValues(activity, "attachments") {
				attachment, ok := att.(map[string]interface{})
				if !ok {
					continue
				}
				name := jsonString(attachment, "filename", "_value")
				payloadID := jsonString(attachment, "payloadRef", "id", "_value")
				if name == "" || payloadID == "" {
					continue
				}
				dir := filepath.Join(outputDir, "Attachments", testID)
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
				if err := x.export(ctx, xcresultPath, filepath.Join(dir, name), "file", payloadID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// failureSummaryRefs walks the test tree and collects the summaryRef ids of
// every leaf test that did not pass.
func failureSummaryRefs(node interface{}) []string {
	m, ok := node.(map[string]interface{})
	if !ok {
		return nil
	}
	if subtests := jsonValues(m, "subtests"); len(subtests) > 0 {
		var refs []string
		for _, sub := range subtests {
			refs = append(refs, failureSummaryRefs(sub)...)
		}
		return refs
	}
	if jsonString(m, "testStatus", "_value") == "Success" {
		return nil
	}
	if ref := jsonString(m, "summaryRef", "id", "_value"); ref != "" {
		return []string{ref}
	}
	return nil
}

// get runs `xcresulttool get` for the object with the given id (the bundle
// root when id is empty) and decodes the JSON.
func (x *XcresultExposer) get(ctx context.Context, xcresultPath, id string) (map[string]interface{}, error) {
	args := []string{"xcresulttool", "get", "--format", "json", "--path", xcresultPath}
	if id != "" {
		args = append(args, "--id", id)
	}
	out, err := x.run(ctx, args)
	if err != nil {
		return nil, err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(out, &obj); err != nil {
		return nil, fmt.Errorf("decode xcresulttool output for %s: %w", xcresultPath, err)
	}
	return obj, nil
}

func (x *XcresultExposer) export(ctx context.Context, xcresultPath, outputPath, objType, id string) error {
	_, err := x.run(ctx, []string{"xcresulttool", "export",
		"--path", xcresultPath, "--output-path", outputPath, "--type", objType, "--id", id})
	return err
}

func (x *XcresultExposer) run(ctx context.Context, args []string) ([]byte, error) {
	// Xcode 16 renamed the object-graph commands to the legacy flag.
	if v, err := x.Xcode.VersionNumber(); err == nil && v >= 1600 {
		args = append(args, "--legacy")
	}
	cmd := exec.CommandContext(ctx, "xcrun", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("xcrun %s %s: %w", args[0], args[1], err)
	}
	return out, nil
}

func (x *XcresultExposer) logger() *zap.SugaredLogger {
	if x.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return x.Logger
}

// jsonString walks nested maps by key and returns the string leaf, or "".
func jsonString(m map[string]interface{}, keys ...string) string {
	var cur interface{} = m
	for _, k := range keys {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = obj[k]
	}
	s, _ := cur.(string)
	return s
}

// jsonValues returns the _values array of the container at m[key].
func jsonValues(m map[string]interface{}, key string) []interface{} {
	obj, ok := m[key].(map[string]interface{})
	if !ok {
		return nil
	}
	values, _ := obj["_values"].([]interface{})
	return values
}
