package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/minz/zxcore/pkg/debugger"
	"github.com/minz/zxcore/pkg/system"
	"github.com/minz/zxcore/pkg/tas"
)

// Set at build time via -ldflags "-X main.buildVersion=... -X main.buildCommit=...".
var (
	buildVersion = "dev"
	buildCommit  = ""
)

func versionString() string {
	if buildCommit != "" {
		return fmt.Sprintf("zxcore %s (%s, %s/%s)", buildVersion, buildCommit, runtime.GOOS, runtime.GOARCH)
	}
	return fmt.Sprintf("zxcore %s (%s/%s)", buildVersion, runtime.GOOS, runtime.GOARCH)
}

var (
	romDir       string
	tapeFile     string
	diskFiles    []string
	snapshotFile string
	frames       uint
	verbose      bool
	cycles       bool
	debug        bool
	noTapeTraps  bool
	noDiskTraps  bool
	noDelay      bool
	interleave   int
	sound        bool
	writeProtect []int
	recordFile   string
	replayFile   string
	showVersion  bool
)

var rootCmd = &cobra.Command{
	Use:   "zxcore",
	Short: "zxcore - cycle-accurate ZX Spectrum emulator core",
	Long: `zxcore - cycle-accurate ZX Spectrum emulator core
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
Headless Pentagon/128K emulation: Z80 with T-state accounting,
TAP/TZX/CSW tape with ROM-trap and pattern acceleration, Beta Disk
(WD1793) with TRD/SCL/HOB/FDI/TD0/UDI/ISD/PRO images, SNA/Z80/SP
snapshots, deterministic session recording.

EXAMPLES:
  zxcore --snapshot game.sna --frames 500        # run 10 seconds
  zxcore --tape game.tap -v                      # tape load, verbose
  zxcore --disk boot.trd --no-delay              # fast TR-DOS boot
  zxcore --tape game.tzx --record run.tas        # record a session
  zxcore --replay run.tas --tape game.tzx        # verify it replays
  zxcore --snapshot game.z80 --debug             # interactive debugger`,
	RunE: run,
}

func run(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Println(versionString())
		return nil
	}

	cfg := system.DefaultConfig()
	cfg.TapeTraps = !noTapeTraps
	cfg.TRDOSTraps = !noDiskTraps
	cfg.WD93NoDelay = noDelay
	cfg.TRDOSInterleave = interleave
	cfg.SoundEnabled = sound
	for _, d := range writeProtect {
		if d >= 0 && d < 4 {
			cfg.TRDOSWriteProtect[d] = true
		}
	}

	sys := system.New(cfg)
	if err := loadROMs(sys); err != nil {
		return err
	}

	if tapeFile != "" {
		data, err := ioutil.ReadFile(tapeFile)
		if err != nil {
			return err
		}
		if err := sys.LoadTape(tapeFile, data); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("📼 Tape: %s (%d blocks, %d pulses)\n",
				tapeFile, len(sys.PulseStore().Blocks), len(sys.PulseStore().Image))
		}
	}

	for i, df := range diskFiles {
		data, err := ioutil.ReadFile(df)
		if err != nil {
			return err
		}
		if err := sys.InsertDisk(i, df, data); err != nil {
			return err
		}
		if verbose {
			d := sys.Disk().Disk(i)
			fmt.Printf("💾 Drive %c: %s (%dx%d)\n", 'A'+i, df, d.Cyls, d.Sides)
		}
	}

	if snapshotFile != "" {
		data, err := ioutil.ReadFile(snapshotFile)
		if err != nil {
			return err
		}
		if err := sys.LoadSnapshot(snapshotFile, data); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("📸 Snapshot: %s (PC=$%04X)\n", snapshotFile, sys.CPU().PC())
		}
	}

	if debug {
		return debugger.New(sys, nil).Run()
	}

	if replayFile != "" {
		return runReplay(sys)
	}
	return runFrames(sys)
}

func runFrames(sys *system.System) error {
	var rec *tas.Recorder
	if recordFile != "" {
		rec = tas.NewRecorder(sys, filepath.Base(recordFile))
	}

	total := 0
	for f := uint(0); f < frames; f++ {
		if rec != nil {
			rec.RunFrame()
		} else {
			total += sys.RunFrame()
		}
	}

	if rec != nil {
		if err := rec.Recording().SaveFile(recordFile); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("🎬 Recorded %d frames to %s\n", frames, recordFile)
		}
	}

	if cycles || verbose {
		clk := sys.Clock()
		fmt.Printf("⏱️  %d frames, %d T-states", clk.FrameCounter(), clk.Now())
		if total > 0 {
			fmt.Printf(", %d instructions", total)
		}
		fmt.Println()
	}
	if verbose {
		fmt.Printf("🏁 PC=$%04X SP=$%04X\n", sys.CPU().PC(), sys.CPU().SP())
	}
	return saveDirtyDisks(sys)
}

func runReplay(sys *system.System) error {
	rec, err := tas.LoadFile(replayFile)
	if err != nil {
		return err
	}
	p := tas.NewReplayer(sys, rec)
	for !p.Done() {
		p.RunFrame()
	}
	if len(p.Divergences) > 0 {
		for _, d := range p.Divergences {
			fmt.Printf("❌ divergence at cycle %d: PC %04X != %04X\n",
				d.Cycle, d.Actual.PC, d.Expected.PC)
		}
		return fmt.Errorf("replay diverged at %d keyframes", len(p.Divergences))
	}
	if verbose {
		fmt.Printf("✅ Replay matched all %d keyframes\n", len(rec.Keyframes))
	}
	return nil
}

// loadROMs pulls the machine ROMs from the ROM directory. Missing files
// leave the page zeroed, which still runs for snapshot-driven sessions.
func loadROMs(sys *system.System) error {
	pages := map[string]int{
		"128-0.rom": system.ROM128Page0,
		"128-1.rom": system.ROM128Page1,
		"trdos.rom": system.ROMTRDOS,
	}
	for name, page := range pages {
		data, err := ioutil.ReadFile(filepath.Join(romDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		sys.LoadROM(page, data)
		if verbose {
			fmt.Printf("📀 ROM page %d: %s\n", page, name)
		}
	}
	return nil
}

func saveDirtyDisks(sys *system.System) error {
	for i := 0; i < 4; i++ {
		data, err := sys.SaveDisk(i)
		if err != nil {
			return err
		}
		if data == nil {
			continue
		}
		d := sys.Disk().Disk(i)
		out := d.Path
		if strings.ToLower(filepath.Ext(out)) != ".trd" {
			out = strings.TrimSuffix(out, filepath.Ext(out)) + ".trd"
		}
		if err := ioutil.WriteFile(out, data, 0644); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("💾 Drive %c written back to %s\n", 'A'+i, out)
		}
	}
	return nil
}

func init() {
	rootCmd.Flags().StringVar(&romDir, "roms", "./roms", "directory holding 128-0.rom/128-1.rom/trdos.rom")
	rootCmd.Flags().StringVar(&tapeFile, "tape", "", "tape image (.tap/.tzx/.csw)")
	rootCmd.Flags().StringSliceVar(&diskFiles, "disk", nil, "disk image(s) for drives A-D")
	rootCmd.Flags().StringVar(&snapshotFile, "snapshot", "", "snapshot to restore (.sna/.z80/.sp)")
	rootCmd.Flags().UintVar(&frames, "frames", 250, "frames to run (50 per emulated second)")

	rootCmd.Flags().BoolVar(&noTapeTraps, "no-tape-traps", false, "disable the ROM loader trap")
	rootCmd.Flags().BoolVar(&noDiskTraps, "no-disk-traps", false, "disable the TR-DOS ROM traps")
	rootCmd.Flags().BoolVar(&noDelay, "no-delay", false, "collapse WD1793 timing delays")
	rootCmd.Flags().IntVar(&interleave, "interleave", 0, "TR-DOS sector interleave (0-2)")
	rootCmd.Flags().BoolVar(&sound, "sound", false, "sound on (disables pattern tape acceleration)")
	rootCmd.Flags().IntSliceVar(&writeProtect, "write-protect", nil, "write-protect drives (0-3)")

	rootCmd.Flags().StringVar(&recordFile, "record", "", "record the session to a .tas file")
	rootCmd.Flags().StringVar(&replayFile, "replay", "", "replay and verify a .tas file")

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose execution info")
	rootCmd.Flags().BoolVarP(&cycles, "cycles", "c", false, "show T-state cycle count")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "run in interactive debugger mode")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
