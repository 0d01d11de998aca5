// SPDX-License-Identifier: MPL-2.0

package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/melonloader/unitydeps/internal/archive"
	"github.com/melonloader/unitydeps/internal/catalog"
	"github.com/melonloader/unitydeps/internal/testutil/archivetest"
)

func testVersion(t *testing.T, s string) catalog.Version {
	t.Helper()
	v, err := catalog.ParseVersion(s, "abcdef123456")
	if err != nil {
		t.Fatalf("ParseVersion(%q): %v", s, err)
	}
	return v
}

// payloadEntries mirrors the layout of a real Android support payload.
func payloadEntries() []archivetest.Entry {
	return []archivetest.Entry{
		{Name: "./"},
		{Name: "./Variations/"},
		{Name: "./Variations/il2cpp/"},
		{Name: "./Variations/il2cpp/Managed/"},
		{Name: "./Variations/il2cpp/Managed/UnityEngine.CoreModule.dll", Data: []byte("core")},
		{Name: "./Variations/il2cpp/Managed/UnityEngine.dll", Data: []byte("engine")},
		{Name: "./Variations/il2cpp/Managed/Resources/"},
		{Name: "./Variations/il2cpp/Managed/Resources/mscorlib.dll.resources", Data: []byte("res")},
		{Name: "./Variations/il2cpp/Managed/il2cpp.xml", Data: []byte("<linker/>")},
		{Name: "./Variations/il2cpp/Release/Libs/arm64-v8a/libunity.so", Data: []byte("arm64 elf")},
		{Name: "./Variations/il2cpp/Release/Libs/armeabi-v7a/libunity.so", Data: []byte("armv7 elf")},
		{Name: "./Variations/il2cpp/Release/Libs/x86/libmain.so", Data: []byte("x86 main")},
		{Name: "./Variations/il2cpp/Release/Symbols/arm64-v8a/libunity.sym.so", Data: []byte("symbols")},
		{Name: "./Variations/mono/Managed/UnityEngine.dll", Data: []byte("mono engine")},
		{Name: "./Tools/gradle/lib/gradle.jar", Data: []byte("jar")},
	}
}

// installerServer serves body for every request and counts hits.
func installerServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestPipeline(srvURL string, opts ...Option) *Pipeline {
	base := []Option{
		WithURLTemplate(srvURL + "/download_unity/{id}/MacEditorTargetInstaller/UnitySetup-Android-Support-for-Editor-{version}.pkg"),
		WithRetry(2, time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func zipEntryNames(t *testing.T, b []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("opening zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestProcess_FullChain(t *testing.T) {
	t.Parallel()

	installer := archivetest.Installer(t, payloadEntries())
	var gotPath, gotUA string
	srv, hits := installerServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write(installer)
	})

	workDir := t.TempDir()
	a, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "2021.3.5f1"), workDir)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("expected 1 download, got %d", hits.Load())
	}
	if want := "/download_unity/abcdef123456/MacEditorTargetInstaller/UnitySetup-Android-Support-for-Editor-2021.3.5f1.pkg"; gotPath != want {
		t.Errorf("path = %s, want %s", gotPath, want)
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q", gotUA)
	}

	names := zipEntryNames(t, a.Bundle.Bytes())
	slices.Sort(names)
	if want := []string{"UnityEngine.CoreModule.dll", "UnityEngine.dll"}; !slices.Equal(names, want) {
		t.Errorf("bundle entries = %v, want %v", names, want)
	}
	if len(a.Managed) != 2 {
		t.Errorf("managed = %v", a.Managed)
	}

	var archs []string
	for _, lib := range a.NativeLibs {
		archs = append(archs, lib.Arch)
	}
	if want := []string{"arm64-v8a", "armeabi-v7a"}; !slices.Equal(archs, want) {
		t.Errorf("native archs = %v, want %v", archs, want)
	}
	if a.NativeLibs[0].AssetName() != "libunity.so.arm64-v8a" {
		t.Errorf("asset name = %s", a.NativeLibs[0].AssetName())
	}

	if a.Installer.Size != int64(len(installer)) || len(a.Installer.SHA256) != 64 {
		t.Errorf("installer digest = %+v", a.Installer)
	}
	var assetNames []string
	for _, d := range a.Assets {
		assetNames = append(assetNames, d.Name)
	}
	if want := []string{"Managed.zip", "libunity.so.arm64-v8a", "libunity.so.armeabi-v7a"}; !slices.Equal(assetNames, want) {
		t.Errorf("asset digests = %v, want %v", assetNames, want)
	}

	for _, consumed := range []string{InstallerFile, "TargetSupport.pkg.tmp/Payload", "Payload~"} {
		if _, err := os.Stat(filepath.Join(workDir, filepath.FromSlash(consumed))); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be removed, stat err = %v", consumed, err)
		}
	}
	for _, unwanted := range []string{"Tools", "Variations/mono", "Variations/il2cpp/Release/Symbols"} {
		if _, err := os.Stat(filepath.Join(workDir, filepath.FromSlash(unwanted))); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s to be filtered out, stat err = %v", unwanted, err)
		}
	}
}

func TestProcess_BelowThresholdNeverDownloads(t *testing.T) {
	t.Parallel()

	srv, hits := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	p := newTestPipeline(srv.URL)

	for _, s := range []string{"4.7.2f1", "5.0.0f4", "5.2.5f1"} {
		_, err := p.Process(context.Background(), testVersion(t, s), t.TempDir())
		if !IsSkip(err) || !errors.Is(err, ErrBelowThreshold) {
			t.Errorf("%s: expected threshold skip, got %v", s, err)
		}
	}
	if hits.Load() != 0 {
		t.Errorf("expected no requests, got %d", hits.Load())
	}
}

func TestSupported(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"4.7.2f1":     false,
		"5.2.5f1":     false,
		"5.3.0f1":     true,
		"5.6.7f1":     true,
		"2017.1.0f3":  true,
		"6000.0.23f1": true,
	}
	for s, want := range tests {
		if got := Supported(testVersion(t, s)); got != want {
			t.Errorf("Supported(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestProcess_NotFoundIsSkipWithoutRetry(t *testing.T) {
	t.Parallel()

	srv, hits := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	workDir := t.TempDir()
	_, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "5.3.0f1"), workDir)
	if !IsSkip(err) || !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("expected not-available skip, got %v", err)
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected wrapped 404 StatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", hits.Load())
	}
	if _, err := os.Stat(filepath.Join(workDir, InstallerFile)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("no installer file should be written on 404")
	}
}

func TestProcess_RetriesTransientStatuses(t *testing.T) {
	t.Parallel()

	installer := archivetest.Installer(t, payloadEntries())
	var calls atomic.Int32
	srv, hits := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write(installer)
		}
	})

	if _, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "2020.3.48f1"), t.TempDir()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestProcess_PersistentServerErrorIsSkip(t *testing.T) {
	t.Parallel()

	srv, hits := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "2019.4.40f1"), t.TempDir())
	if !IsSkip(err) || !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("expected skip after retries, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 1 attempt plus 2 retries, got %d", hits.Load())
	}
}

func TestProcess_TransportErrorIsFatal(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestPipeline(url, WithRetry(1, time.Millisecond)).Process(context.Background(), testVersion(t, "2019.4.40f1"), t.TempDir())
	if !IsFatal(err) {
		t.Fatalf("expected fatal outcome, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "download" {
		t.Errorf("expected download stage, got %v", err)
	}
}

func TestProcess_CorruptInstallerIsFatal(t *testing.T) {
	t.Parallel()

	srv, _ := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>this is not a package</html>")
	})

	_, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "2021.3.5f1"), t.TempDir())
	if !IsFatal(err) || !errors.Is(err, archive.ErrUnsupportedFormat) {
		t.Fatalf("expected fatal unsupported format, got %v", err)
	}
}

func TestProcess_MissingPayloadIsFatal(t *testing.T) {
	t.Parallel()

	pkg := archivetest.Xar(t, []archivetest.Entry{
		{Name: "Distribution", Data: []byte("<installer-gui-script/>")},
		{Name: "Resources/en.lproj/License.rtf", Data: []byte("license")},
	})
	srv, _ := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pkg)
	})

	_, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "2021.3.5f1"), t.TempDir())
	if !IsFatal(err) || !errors.Is(err, ErrLayoutChanged) {
		t.Fatalf("expected fatal layout change, got %v", err)
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Stage != "installer" {
		t.Errorf("stage = %s, want installer", stageErr.Stage)
	}
}

func TestProcess_NoManagedAssembliesIsFatal(t *testing.T) {
	t.Parallel()

	pkg := archivetest.Installer(t, []archivetest.Entry{
		{Name: "./Variations/il2cpp/Release/Libs/arm64-v8a/libunity.so", Data: []byte("elf")},
	})
	srv, _ := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pkg)
	})

	_, err := newTestPipeline(srv.URL).Process(context.Background(), testVersion(t, "2022.3.1f1"), t.TempDir())
	if !IsFatal(err) || !errors.Is(err, ErrLayoutChanged) {
		t.Fatalf("expected fatal layout change, got %v", err)
	}
}

func TestProcess_CustomSteps(t *testing.T) {
	t.Parallel()

	// A flat cpio download can skip the xar and gzip layers entirely.
	cpioOnly := archivetest.ODC(t, payloadEntries())
	srv, _ := installerServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(cpioOnly)
	})

	steps := []Step{{
		Name:            "flat",
		Source:          InstallerFile,
		Filters:         []string{ManagedDir + "/*", LibsDir + "/*"},
		RecursiveDelete: true,
	}}
	a, err := newTestPipeline(srv.URL, WithSteps(steps)).Process(context.Background(), testVersion(t, "2021.3.5f1"), t.TempDir())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(a.NativeLibs) != 2 {
		t.Errorf("native libs = %v", a.NativeLibs)
	}
}

func TestDownloadURL(t *testing.T) {
	t.Parallel()

	got := New().DownloadURL(testVersion(t, "2019.4.40f1"))
	want := "https://download.unity3d.com/download_unity/abcdef123456/MacEditorTargetInstaller/UnitySetup-Android-Support-for-Editor-2019.4.40f1.pkg"
	if got != want {
		t.Errorf("DownloadURL = %s, want %s", got, want)
	}
}

func TestStageError(t *testing.T) {
	t.Parallel()

	err := fatal("payload", ErrLayoutChanged)
	if !strings.Contains(err.Error(), "payload (fatal)") {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsSkip(err) || !IsFatal(err) {
		t.Errorf("kind helpers disagree for %v", err)
	}
	if IsSkip(errors.New("plain")) || IsFatal(nil) {
		t.Errorf("plain errors carry no kind")
	}
}
