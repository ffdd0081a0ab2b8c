package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobileci/xtr/internal/plist"
)

// summariesFixture builds a TestSummaries plist with one failed and one
// passed method plus a populated Attachments dir under baseDir/Logs/Test,
// returning both paths.
func summariesFixture(t *testing.T, baseDir string) (summariesPath, attachmentsDir string) {
	t.Helper()
	logsDir := filepath.Join(baseDir, "Logs", "Test")
	attachmentsDir = filepath.Join(logsDir, "Attachments")
	require.NoError(t, os.MkdirAll(attachmentsDir, 0o755))

	failed := map[string]interface{}{
		"TestIdentifier": "ExampleUITests/testBroken",
		"TestStatus":     "Failure",
		"ActivitySummaries": []interface{}{
			map[string]interface{}{
				"HasScreenshotData": true,
				"UUID":              "AAAA-1111",
			},
			map[string]interface{}{
				"SubActivities": []interface{}{
					map[string]interface{}{
						"HasScreenshotData": true,
						"UUID":              "BBBB-2222",
					},
				},
			},
		},
	}
	passed := map[string]interface{}{
		"TestIdentifier": "ExampleUITests/testFine",
		"TestStatus":     "Success",
		"ActivitySummaries": []interface{}{
			map[string]interface{}{
				"HasScreenshotData": true,
				"UUID":              "CCCC-3333",
			},
		},
	}
	root := map[string]interface{}{
		"TestIdentifier": "All tests",
		"Subtests": []interface{}{
			map[string]interface{}{
				"TestIdentifier": "ExampleUITests",
				"Subtests":       []interface{}{failed, passed},
			},
		},
	}
	summariesPath = filepath.Join(logsDir, "1_Test_TestSummaries.plist")
	require.NoError(t, plist.NewFile(summariesPath).SetField("", map[string]interface{}{
		"TestableSummaries": []interface{}{
			map[string]interface{}{"Tests": []interface{}{root}},
		},
	}))

	for _, name := range []string{
		"Screenshot_AAAA-1111.png",
		"Screenshot_BBBB-2222.jpg",
		"Screenshot_CCCC-3333.png",
		"ExampleUITests-Runner.crash",
		"Session.log",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(attachmentsDir, name), []byte("x"), 0o644))
	}
	return summariesPath, attachmentsDir
}

func TestPruneTestSummaries(t *testing.T) {
	t.Run("keeps failure screenshots and crashes", func(t *testing.T) {
		summariesPath, attachmentsDir := summariesFixture(t, t.TempDir())
		require.NoError(t, pruneTestSummaries(summariesPath, attachmentsDir, true))

		testDir := filepath.Join(attachmentsDir, "ExampleUITests", "ExampleUITests_testBroken")
		assert.FileExists(t, filepath.Join(testDir, "Screenshot_AAAA-1111.png"))
		assert.FileExists(t, filepath.Join(testDir, "Screenshot_BBBB-2222.jpg"))
		assert.FileExists(t, filepath.Join(testDir, "TestMethodResult.plist"))
		assert.FileExists(t, filepath.Join(attachmentsDir, "ExampleUITests-Runner.crash"))

		assert.NoFileExists(t, filepath.Join(attachmentsDir, "Screenshot_CCCC-3333.png"))
		assert.NoFileExists(t, filepath.Join(attachmentsDir, "Session.log"))
		assert.NoDirExists(t, filepath.Join(attachmentsDir, "ExampleUITests", "ExampleUITests_testFine"))
	})

	t.Run("keeps only crashes when screenshots are dropped", func(t *testing.T) {
		summariesPath, attachmentsDir := summariesFixture(t, t.TempDir())
		require.NoError(t, pruneTestSummaries(summariesPath, attachmentsDir, false))

		entries, err := os.ReadDir(attachmentsDir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "ExampleUITests-Runner.crash", entries[0].Name())
	})
}
