package docmap

import "sort"

// ReposSet is the compressed docno -> source-fileno map of spec.md's
// Repository Set: alternating runs of "many docs share one fileno"
// (a compressed source file, many documents packed into it) and "one
// doc per fileno" (an uncompressed source, one file per document).
// Each run records the docno at which it starts and the fileno(s) it
// covers, so translation is a binary search over run starts rather
// than a per-docno table.
type ReposSet struct {
	runs []reposRun
	// lastDocno is the docno passed to the most recent Record call; it
	// lets Record tell whether the current run has exactly one entry
	// so far (last.startDocno == lastDocno) when deciding whether a
	// second, incrementing docno reveals a one-doc-per-file run.
	lastDocno uint64
}

type reposRun struct {
	startDocno uint64
	manyInOne  bool   // true: all docnos in this run share fileno. false: one-doc-per-file sequential.
	fileno     uint32 // base fileno: the shared fileno (manyInOne) or the fileno of startDocno (else)
}

func newReposSet() *ReposSet {
	return &ReposSet{}
}

// Record notes that docno lives in fileno, extending the current run
// when possible or opening a new one when the shape changes.
func (rs *ReposSet) Record(docno uint64, fileno uint32) {
	if len(rs.runs) == 0 {
		rs.runs = append(rs.runs, reposRun{startDocno: docno, manyInOne: true, fileno: fileno})
		rs.lastDocno = docno
		return
	}

	last := &rs.runs[len(rs.runs)-1]
	if last.manyInOne {
		if fileno == last.fileno {
			rs.lastDocno = docno
			return
		}
		if last.startDocno == rs.lastDocno && fileno == last.fileno+1 {
			// A single new docno with a different fileno could be the start
			// of either shape; this second record's fileno increments by
			// exactly one, so the run turns out to be one-doc-per-file
			// starting at its first docno rather than a many-in-one run
			// that happened to stop short.
			last.manyInOne = false
			rs.lastDocno = docno
			return
		}
		rs.runs = append(rs.runs, reposRun{startDocno: docno, manyInOne: true, fileno: fileno})
		rs.lastDocno = docno
		return
	}

	// Currently a one-doc-per-file run: continues if fileno keeps
	// incrementing by exactly one per docno.
	expectedLen := docno - last.startDocno
	if fileno == last.fileno+uint32(expectedLen) {
		rs.lastDocno = docno
		return
	}
	rs.runs = append(rs.runs, reposRun{startDocno: docno, manyInOne: true, fileno: fileno})
	rs.lastDocno = docno
}

// Fileno translates docno to its source fileno in O(log runs).
func (rs *ReposSet) Fileno(docno uint64) uint32 {
	idx := sort.Search(len(rs.runs), func(i int) bool {
		var next uint64 = ^uint64(0)
		if i+1 < len(rs.runs) {
			next = rs.runs[i+1].startDocno
		}
		return docno < next
	})
	if idx >= len(rs.runs) {
		return 0
	}
	r := rs.runs[idx]
	if r.manyInOne {
		return r.fileno
	}
	return r.fileno + uint32(docno-r.startDocno)
}

// Checkpoint records the enclosing repository's checkpoint for a
// compressed source file: the first offset in that file is always 0
// per spec.md's invariant, so this tracks only where reading should
// resume from if a checkpoint is needed mid-file.
type Checkpoint struct {
	Fileno uint32
	Offset int64
}

// Runs exposes the run table for serialisation into a cache page's
// REPOS_REC section.
func (rs *ReposSet) Runs() []reposRun { return rs.runs }

// restoreRuns rebuilds the run table from a decoded REPOS_REC section.
func (rs *ReposSet) restoreRuns(runs []reposRun) { rs.runs = runs }
