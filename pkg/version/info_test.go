package version

import "testing"

func TestCurrent_Defaults(t *testing.T) {
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})

	AppVersion, GitCommit, BuildTime = "", " ", ""
	info := Current("")

	if info.Name != Unknown || info.Version != DevelopmentVersion || info.Commit != Unknown || info.BuildTime != Unknown {
		t.Fatalf("unexpected defaults: %+v", info)
	}
}

func TestCurrent_UsesBuildMetadata(t *testing.T) {
	oldVersion, oldCommit, oldBuildTime := AppVersion, GitCommit, BuildTime
	t.Cleanup(func() {
		AppVersion, GitCommit, BuildTime = oldVersion, oldCommit, oldBuildTime
	})

	AppVersion, GitCommit, BuildTime = "v1.4.0", "abc123", "2026-01-02T03:04:05Z"
	got := Current("backupstore").String()
	want := "backupstore v1.4.0 (commit abc123, built 2026-01-02T03:04:05Z)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
