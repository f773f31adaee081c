package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-voicevox-core/internal/config"
	"github.com/example/go-voicevox-core/internal/infer"
	"github.com/example/go-voicevox-core/internal/onnx"
	"github.com/example/go-voicevox-core/internal/testutil"
	"github.com/example/go-voicevox-core/internal/voicemodel"
)

const speakerUUID = "7ffcb7ce-00ec-4bdc-82cd-45a8889e43ff"

// テスト with zeroed lengths and pitches.
const tesutoQuery = `{"accent_phrases":[{"moras":[` +
	`{"text":"テ","consonant":"t","consonant_length":0,"vowel":"e","vowel_length":0,"pitch":0},` +
	`{"text":"ス","consonant":"s","consonant_length":0,"vowel":"U","vowel_length":0,"pitch":0},` +
	`{"text":"ト","consonant":"t","consonant_length":0,"vowel":"o","vowel_length":0,"pitch":0}` +
	`],"accent":1,"pause_mora":null,"is_interrogative":false}]}`

// テスト with lengths and pitches filled in.
const filledQuery = `{"accent_phrases":[{"moras":[` +
	`{"text":"テ","consonant":"t","consonant_length":0.06,"vowel":"e","vowel_length":0.12,"pitch":5.6},` +
	`{"text":"ス","consonant":"s","consonant_length":0.07,"vowel":"U","vowel_length":0.08,"pitch":0},` +
	`{"text":"ト","consonant":"t","consonant_length":0.05,"vowel":"o","vowel_length":0.15,"pitch":5.4}` +
	`],"accent":1,"pause_mora":null,"is_interrogative":false}]}`

// useFakeBackend routes openSynthesizer to a FakeBackend for the test.
func useFakeBackend(t *testing.T) *testutil.FakeBackend {
	t.Helper()
	b := &testutil.FakeBackend{}
	orig := newBackend
	t.Cleanup(func() { newBackend = orig })
	newBackend = func(config.RuntimeConfig) (onnx.Backend, error) { return b, nil }
	return b
}

// modelDir writes one experimental talk package with styles 0 and 1 and
// returns the directory holding it.
func modelDir(t *testing.T) string {
	t.Helper()
	zipPath := testutil.WritePackageZip(t, testutil.PackageSpec{
		Domains:    []infer.Domain{infer.DomainExperimentalTalk},
		Characters: []voicemodel.CharacterMeta{testutil.TalkCharacter("tester", speakerUUID, 0, 1)},
	})
	return filepath.Dir(zipPath)
}

func writeQuery(t *testing.T) string {
	t.Helper()
	return writeFile(t, tesutoQuery)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "query.json")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	root := NewRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func readFile(t *testing.T, p string) []byte {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return data
}

// --- synth ---

func TestSynthCmd_WritesWAV(t *testing.T) {
	useFakeBackend(t)
	dir := modelDir(t)
	out := filepath.Join(t.TempDir(), "out.wav")

	err := execute(t, "synth", "--paths-model-dir", dir, "--query", writeQuery(t),
		"--style", "1", "--fill-mora-data", "--out", out)
	if err != nil {
		t.Fatalf("synth: %v", err)
	}

	data := readFile(t, out)
	testutil.AssertValidWAV(t, data)
	testutil.AssertWAVFormat(t, data, 24000, 1)
}

func TestSynthCmd_RenderRange(t *testing.T) {
	b := useFakeBackend(t)
	dir := modelDir(t)
	out := filepath.Join(t.TempDir(), "range.wav")

	err := execute(t, "synth", "--paths-model-dir", dir, "--query", writeQuery(t),
		"--fill-mora-data", "--start-frame", "2", "--end-frame", "12", "--out", out)
	if err != nil {
		t.Fatalf("synth: %v", err)
	}

	data := readFile(t, out)
	testutil.AssertWAVFormat(t, data, 24000, 1)
	if got, want := testutil.WAVFrameCount(t, data), 10*256; got != want {
		t.Errorf("frames = %d; want %d", got, want)
	}
	if b.Runs(infer.OpRenderAudioSegment) != 1 {
		t.Errorf("render runs = %d; want 1", b.Runs(infer.OpRenderAudioSegment))
	}
}

func TestSynthCmd_UnknownStyleFails(t *testing.T) {
	useFakeBackend(t)
	dir := modelDir(t)

	err := execute(t, "synth", "--paths-model-dir", dir, "--query", writeQuery(t),
		"--style", "99", "--out", filepath.Join(t.TempDir(), "x.wav"))
	if err == nil || !strings.Contains(err.Error(), "synth failed") {
		t.Fatalf("want synth failure, got %v", err)
	}
}

func TestSynthCmd_MissingModelDirFails(t *testing.T) {
	useFakeBackend(t)

	err := execute(t, "synth", "--paths-model-dir", filepath.Join(t.TempDir(), "absent"),
		"--query", writeQuery(t), "--out", filepath.Join(t.TempDir(), "x.wav"))
	if err == nil {
		t.Fatal("want error for a missing model dir")
	}
}

func TestReadQuery(t *testing.T) {
	q, err := readQuery("-", strings.NewReader(tesutoQuery))
	if err != nil {
		t.Fatalf("readQuery: %v", err)
	}
	if len(q.AccentPhrases) != 1 || q.SpeedScale != 1 || q.OutputSamplingRate != 24000 {
		t.Errorf("query = %+v; want one phrase with default scales", q)
	}

	if _, err := readQuery("-", strings.NewReader("")); err == nil {
		t.Error("want error for empty stdin")
	}
	if _, err := readQuery("-", strings.NewReader("{")); err == nil {
		t.Error("want error for malformed JSON")
	}
	if _, err := readQuery(filepath.Join(t.TempDir(), "absent.json"), nil); err == nil {
		t.Error("want error for a missing file")
	}
}

func TestWriteSynthOutput_Stdout(t *testing.T) {
	var sb strings.Builder
	if err := writeSynthOutput("-", []byte("RIFF"), &sb); err != nil {
		t.Fatalf("writeSynthOutput: %v", err)
	}
	if sb.String() != "RIFF" {
		t.Errorf("stdout = %q; want RIFF", sb.String())
	}
	if err := writeSynthOutput("-", nil, nil); err == nil {
		t.Error("want error for nil stdout")
	}
}

// --- morph ---

func TestMorphCmd_WritesWAV(t *testing.T) {
	useFakeBackend(t)
	dir := modelDir(t)
	out := filepath.Join(t.TempDir(), "morph.wav")

	err := execute(t, "morph", "--paths-model-dir", dir, "--query", writeFile(t, filledQuery),
		"--base", "0", "--target", "1", "--rate", "0.5", "--out", out)
	if err != nil {
		t.Fatalf("morph: %v", err)
	}
	testutil.AssertWAVFormat(t, readFile(t, out), 24000, 1)
}

func TestMorphCmd_RateOutOfRangeFails(t *testing.T) {
	useFakeBackend(t)
	dir := modelDir(t)

	err := execute(t, "morph", "--paths-model-dir", dir, "--query", writeFile(t, filledQuery),
		"--base", "0", "--target", "1", "--rate", "1.5", "--out", filepath.Join(t.TempDir(), "x.wav"))
	if err == nil || !strings.Contains(err.Error(), "morph failed") {
		t.Fatalf("want morph failure, got %v", err)
	}
}

// --- bench ---

func TestBenchCmd_RunsRequestedTimes(t *testing.T) {
	b := useFakeBackend(t)
	dir := modelDir(t)

	err := execute(t, "bench", "--paths-model-dir", dir, "--query", writeQuery(t), "--runs", "3", "--format", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}
	if got := b.Runs(infer.OpGenerateFullIntermediate); got != 3 {
		t.Errorf("synthesis runs = %d; want 3", got)
	}
}

func TestBenchCmd_RejectsBadFlags(t *testing.T) {
	useFakeBackend(t)
	dir := modelDir(t)

	for _, args := range [][]string{{"--runs", "0"}, {"--format", "xml"}} {
		full := append([]string{"bench", "--paths-model-dir", dir, "--query", writeQuery(t)}, args...)
		if err := execute(t, full...); err == nil {
			t.Errorf("bench %v: want error", args)
		}
	}
}

// --- model verify ---

func TestModelVerifyCmd_PassesOptions(t *testing.T) {
	var got voicemodel.VerifyOptions
	orig := runVerify
	t.Cleanup(func() { runVerify = orig })
	runVerify = func(opts voicemodel.VerifyOptions) error {
		got = opts
		return nil
	}

	err := execute(t, "model", "verify", "pkg.vvm", "--ort-lib", "/opt/ort/libonnxruntime.so", "--ort-api-version", "22")
	if err != nil {
		t.Fatalf("model verify: %v", err)
	}
	if got.PackagePath != "pkg.vvm" || got.ORTLibrary != "/opt/ort/libonnxruntime.so" || got.ORTAPIVersion != 22 {
		t.Errorf("VerifyOptions = %+v", got)
	}
}

func TestModelVerifyCmd_WrapsFailure(t *testing.T) {
	orig := runVerify
	t.Cleanup(func() { runVerify = orig })
	runVerify = func(voicemodel.VerifyOptions) error { return os.ErrNotExist }

	err := execute(t, "model", "verify", "pkg.vvm")
	if err == nil || !strings.Contains(err.Error(), "model verify failed") {
		t.Fatalf("want wrapped verify error, got %v", err)
	}
}

func TestModelVerifyCmd_RequiresPackageArg(t *testing.T) {
	if err := execute(t, "model", "verify"); err == nil {
		t.Fatal("want error without a package argument")
	}
}

// --- doctor ---

func TestDoctorCmd_PassesWithModels(t *testing.T) {
	dir := modelDir(t)
	if err := execute(t, "doctor", "--skip-runtime", "--paths-model-dir", dir); err != nil {
		t.Fatalf("doctor: %v", err)
	}
}

func TestDoctorCmd_FailsOnEmptyModelDir(t *testing.T) {
	err := execute(t, "doctor", "--skip-runtime", "--paths-model-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "doctor checks failed") {
		t.Fatalf("want doctor failure, got %v", err)
	}
}

func TestDoctorConfig_SmokeUsesDetectedLibrary(t *testing.T) {
	t.Setenv("ORT_VERSION", "")
	lib := filepath.Join(t.TempDir(), "libonnxruntime.so.1.23.2")
	if err := os.WriteFile(lib, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var probed string
	orig := runtimeProbe
	t.Cleanup(func() { runtimeProbe = orig })
	runtimeProbe = func(path string, _ uint32) error {
		probed = path
		return nil
	}

	dcfg := doctorConfig(config.Config{Runtime: config.RuntimeConfig{ORTLibraryPath: lib}}, false)
	ver, err := dcfg.RuntimeVersion()
	if err != nil {
		t.Fatalf("RuntimeVersion: %v", err)
	}
	if ver != "1.23.2" {
		t.Errorf("version = %q; want 1.23.2", ver)
	}
	if err := dcfg.RuntimeSmoke(); err != nil {
		t.Fatalf("RuntimeSmoke: %v", err)
	}
	if probed != lib {
		t.Errorf("probed %q; want %q", probed, lib)
	}
}
