package rebuild

import (
	"fmt"

	"github.com/papapumpkin/animc/internal/dba"
)

// packArchives packs every table archive and returns the animation to
// archive mapping of the members that were actually packed.
func (r *Rebuilder) packArchives(packer *dba.Packer, rep *Report) (map[string]string, error) {
	packed := make(map[string]string)
	for i := 0; i < r.table.ArchiveCount(); i++ {
		entry := r.table.Archive(i)
		var (
			members []dba.Member
			inBytes int64
		)
		for _, m := range entry.Members {
			if m.Skip {
				continue
			}
			a, err := r.codec.ReadFile(r.layout.Intermediate(m.Path))
			if err != nil {
				rep.warn(entry.Archive, m.Path, fmt.Errorf("%w: %v", ErrArchiveMemberMissing, err))
				continue
			}
			if a.Meta.IsPose() {
				rep.warn(entry.Archive, m.Path, ErrPoseInArchive)
				continue
			}
			if a.Meta.Archive != entry.Archive {
				rep.warn(entry.Archive, m.Path, fmt.Errorf("%w: compiled for %q", ErrArchiveSkew, a.Meta.Archive))
				continue
			}
			data, err := r.codec.Encode(a, r.target.Order)
			if err != nil {
				return nil, fmt.Errorf("rebuild: %s: %w", m.Path, err)
			}
			members = append(members, dba.Member{Path: m.Path, Data: data})
			inBytes += int64(len(data))
		}

		ar := ArchiveReport{Archive: entry.Archive, Members: len(members), InBytes: inBytes}
		if len(members) == 0 {
			rep.warn(entry.Archive, "", ErrEmptyArchive)
			rep.Archives = append(rep.Archives, ar)
			continue
		}
		blob, err := packer.Archive(members)
		if err != nil {
			return nil, fmt.Errorf("rebuild: pack %s: %w", entry.Archive, err)
		}
		ar.OutBytes = int64(len(blob))
		ar.Written, err = dba.WriteIfChanged(r.layout.Target(entry.Archive), blob)
		if err != nil {
			return nil, fmt.Errorf("rebuild: write %s: %w", entry.Archive, err)
		}
		for _, m := range members {
			packed[m.Path] = entry.Archive
		}
		rep.Archives = append(rep.Archives, ar)
		fmt.Fprintf(r.log, "DBA %s: %d KB -> %d KB (%d%%) anims: %d\n",
			entry.Archive, ar.InBytes/1024, ar.OutBytes/1024, percent(ar.OutBytes, ar.InBytes), ar.Members)
	}
	return packed, nil
}

func percent(part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	return part * 100 / whole
}
