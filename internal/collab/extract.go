package collab

// Extraction is what one repository's commit list yields
type Extraction struct {
	Edges           []EdgeOccurrence
	HadCommits      bool
	SoloContributor bool
	// Contributions counts, per author, the commits they appear on
	Contributions   map[AuthorHandle]int
}

// Extract derives the collaboration edge occurrences of one repository.
//
// Every commit's primary author is linked to every author that ever touched
// the repository, not only to the co-authors of that commit. This matches the
// published edge lists and is kept as-is until the intended semantics are
// confirmed. A repository with a single author gets one self-loop per commit.
// Commits without authors contribute no edges.
func Extract(repo RepositoryID, commits []Commit) Extraction {
	if len(commits) == 0 {
		return Extraction{}
	}

	var unique []AuthorHandle
	contributions := make(map[AuthorHandle]int)
	for _, c := range commits {
		for _, a := range c.Authors {
			if _, ok := contributions[a]; !ok {
				unique = append(unique, a)
			}
			contributions[a]++
		}
	}
	solo := len(unique) == 1

	var edges []EdgeOccurrence
	for _, c := range commits {
		if len(c.Authors) == 0 {
			continue
		}
		primary := c.Authors[0]
		for _, target := range unique {
			if target == primary {
				continue
			}
			edges = append(edges, EdgeOccurrence{Source: primary, Target: target, Repository: repo})
		}
		if solo {
			edges = append(edges, EdgeOccurrence{Source: primary, Target: primary, Repository: repo})
		}
	}

	return Extraction{
		Edges:           edges,
		HadCommits:      true,
		SoloContributor: solo,
		Contributions:   contributions,
	}
}
