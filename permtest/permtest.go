// Package permtest runs permutation significance tests: it re-scans the
// genome on permuted phenotype rows and collects the genome-wide maximum
// statistic of every replicate, from which the caller derives
// significance thresholds. Replicates are spread over balanced worker
// groups, failures are isolated per replicate, and progress is
// checkpointed so long runs can resume.
package permtest

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/qscan/checkpoint"
	"bitbucket.org/Davydov/qscan/linreg"
	"bitbucket.org/Davydov/qscan/lmm"
	"bitbucket.org/Davydov/qscan/perm"
	"bitbucket.org/Davydov/qscan/scan"
)

var log = logging.MustGetLogger("permtest")

// Config controls a permutation run.
type Config struct {
	// NPerm is the number of permutation replicates.
	NPerm int `toml:"n_perm"`
	// Seed makes the generated permutations reproducible.
	Seed uint64 `toml:"seed"`
	// Cores is the number of replicate worker groups; 0 means
	// runtime.GOMAXPROCS(0).
	Cores int `toml:"cores"`
	// Tol is the numerical tolerance threaded through the fits.
	Tol float64 `toml:"tol"`
	// REML selects restricted maximum likelihood for mixed-model runs.
	REML bool `toml:"reml"`
	// CheckpointPath, when set, names a bolt database for periodic
	// progress saves.
	CheckpointPath string `toml:"checkpoint_path"`
	// CheckpointSeconds is the minimum interval between saves.
	CheckpointSeconds float64 `toml:"checkpoint_seconds"`
}

// LoadConfig reads a TOML run configuration.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Result holds one replicate maximum per permutation; entries for failed
// replicates are NaN and their indices are listed in Failed.
type Result struct {
	Maxima []float64
	Failed []int
}

// Runner executes permutation runs under one configuration.
type Runner struct {
	cfg Config
	db  *bolt.DB
}

// NewRunner prepares a runner, opening the checkpoint database when one
// is configured.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.NPerm < 1 {
		return nil, fmt.Errorf("permtest: n_perm must be positive, got %d", cfg.NPerm)
	}
	if cfg.Tol <= 0 {
		cfg.Tol = linreg.DefaultTol
	}
	if cfg.Cores < 1 {
		cfg.Cores = runtime.GOMAXPROCS(0)
	}
	if cfg.CheckpointSeconds <= 0 {
		cfg.CheckpointSeconds = 30
	}
	r := &Runner{cfg: cfg}
	if cfg.CheckpointPath != "" {
		db, err := bolt.Open(cfg.CheckpointPath, 0600, nil)
		if err != nil {
			return nil, err
		}
		r.db = db
	}
	return r, nil
}

// Close releases the checkpoint database.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// RunHK runs a Haley-Knott permutation test. strata may be nil for
// unstratified permutation; otherwise rows are shuffled only within
// strata.
func (r *Runner) RunHK(probs *scan.GenoProbs, pheno, addcovar *mat.Dense, strata []int) (*Result, error) {
	scanOne := func(phenoPerm *mat.Dense) (*mat.Dense, error) {
		return scan.HK(probs, phenoPerm, addcovar, r.cfg.Tol)
	}
	return r.run("hk", pheno, strata, scanOne)
}

// RunLMM runs a mixed-model permutation test using the supplied kinship
// eigendecomposition.
func (r *Runner) RunLMM(probs *scan.GenoProbs, pheno, addcovar *mat.Dense, eig *lmm.Eigendecomp, strata []int) (*Result, error) {
	scanOne := func(phenoPerm *mat.Dense) (*mat.Dense, error) {
		return scan.LMM(probs, phenoPerm, addcovar, eig, r.cfg.REML, r.cfg.Tol)
	}
	return r.run("lmm", pheno, strata, scanOne)
}

// permuteRows returns pheno with rows reordered by p.
func permuteRows(pheno *mat.Dense, p []int) *mat.Dense {
	n, k := pheno.Dims()
	out := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, pheno.At(p[i], j))
		}
	}
	return out
}

func nStrata(strata []int) int {
	max := -1
	for _, s := range strata {
		if s > max {
			max = s
		}
	}
	return max + 1
}

func (r *Runner) run(kind string, pheno *mat.Dense, strata []int, scanOne func(*mat.Dense) (*mat.Dense, error)) (*Result, error) {
	n, _ := pheno.Dims()
	if strata != nil && len(strata) != n {
		return nil, fmt.Errorf("permtest: %d phenotype rows but %d strata labels", n, len(strata))
	}
	nperm := r.cfg.NPerm

	// All permutations come from one seeded source so a run is fully
	// determined by its configuration, resumed or not.
	src := perm.NewSource(r.cfg.Seed)
	perms := make([][]int, nperm)
	for i := range perms {
		var err error
		if strata == nil {
			perms[i] = src.Permutation(n)
		} else if perms[i], err = src.PermutationStratified(strata, nStrata(strata)); err != nil {
			return nil, err
		}
	}

	key := fmt.Sprintf("%s-%d-%d", kind, nperm, r.cfg.Seed)
	ckpt := checkpoint.NewCheckpointIO(r.db, []byte(key), r.cfg.CheckpointSeconds)

	state := &checkpoint.CheckpointData{
		Maxima: make([]float64, nperm),
		Done:   make([]bool, nperm),
	}
	if prev, err := ckpt.Load(); err != nil {
		return nil, err
	} else if prev != nil && !prev.Final && len(prev.Done) == nperm {
		state = prev
		log.Infof("Resuming %s permutation run: %d/%d replicates done", kind, state.Completed, nperm)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	groups := scan.BalancedGroups(nperm, r.cfg.Cores)
	for _, group := range groups {
		wg.Add(1)
		go func(group []int) {
			defer wg.Done()
			for _, rep := range group {
				mu.Lock()
				done := state.Done[rep]
				mu.Unlock()
				if done {
					continue
				}
				lod, err := scanOne(permuteRows(pheno, perms[rep]))
				mu.Lock()
				state.Done[rep] = true
				state.Completed++
				if err != nil {
					log.Warningf("replicate %d failed: %v", rep, err)
					state.Failed = append(state.Failed, rep)
					state.Maxima[rep] = 0
				} else {
					state.Maxima[rep] = mat.Max(lod)
				}
				if ckpt.Old() {
					ckpt.Save(state)
				}
				mu.Unlock()
			}
		}(group)
	}
	wg.Wait()

	state.Final = true
	if err := ckpt.Save(state); err != nil {
		log.Error("Error saving final checkpoint", err)
	}
	log.Noticef("%s permutation run finished: %d replicates, %d failed", kind, nperm, len(state.Failed))

	res := &Result{Maxima: make([]float64, nperm), Failed: state.Failed}
	copy(res.Maxima, state.Maxima)
	for _, rep := range state.Failed {
		res.Maxima[rep] = math.NaN()
	}
	return res, nil
}
