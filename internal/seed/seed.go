package seed

import (
	"fmt"
	"log"

	"coldfront/internal/models"

	"gorm.io/gorm"
)

// Options configure the seeder.
type Options struct {
	NumProjects       int
	MembersPerProject int
	ShouldClean       bool
	// SkipBcrypt stores the demo password in plain text. Tests only.
	SkipBcrypt bool
	// DryRun logs the rows that would be written without touching the DB.
	DryRun bool
	// MaxDays bounds how far back request times are spread.
	MaxDays         int
	StorageBasePath string
	ResourceName    string
}

// DefaultOptions returns the options used by InitRuntime and storagectl.
func DefaultOptions() Options {
	return Options{
		NumProjects:       15,
		MembersPerProject: 2,
		MaxDays:           60,
		StorageBasePath:   "/global/scratch/fsa",
		ResourceName:      "Scratch Faculty Storage Directory",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxDays <= 0 {
		o.MaxDays = d.MaxDays
	}
	if o.StorageBasePath == "" {
		o.StorageBasePath = d.StorageBasePath
	}
	if o.ResourceName == "" {
		o.ResourceName = d.ResourceName
	}
	if o.MembersPerProject < 0 {
		o.MembersPerProject = 0
	}
	return o
}

// Demo account usernames.
const (
	AgentUsername    = "storage_agent"
	ReviewerUsername = "storage_reviewer"
)

// Summary reports what Demo wrote.
type Summary struct {
	Skipped  bool
	Users    int
	Projects int
	ByStatus map[models.StorageRequestStatus]int
}

// Requests returns the total number of requests created.
func (s *Summary) Requests() int {
	n := 0
	for _, c := range s.ByStatus {
		n += c
	}
	return n
}

// Demo populates the database with a provisioning agent, a reviewer and
// projects whose requests cover every status. Requests are spread round
// robin over the statuses. A database that already has projects is left
// alone unless ShouldClean is set.
func Demo(db *gorm.DB, opts Options) (*Summary, error) {
	opts = opts.withDefaults()
	summary := &Summary{ByStatus: make(map[models.StorageRequestStatus]int)}

	if !opts.DryRun {
		if opts.ShouldClean {
			if err := clearData(db); err != nil {
				return nil, fmt.Errorf("failed to clear existing data: %w", err)
			}
		} else {
			var existing int64
			if err := db.Model(&models.Project{}).Count(&existing).Error; err != nil {
				return nil, err
			}
			if existing > 0 {
				log.Printf("Database already has %d projects, skipping demo seed", existing)
				summary.Skipped = true
				return summary, nil
			}
		}
	}

	log.Printf("Seeding %d demo projects...", opts.NumProjects)

	run := func(tx *gorm.DB) error {
		f := NewFactory(tx, opts)

		if _, err := f.CreateUser([]string{models.PermManageStorageRequests}, func(u *models.User) {
			u.Username = AgentUsername
			u.Email = AgentUsername + "@coldfront.local"
			u.FirstName, u.LastName = "Storage", "Agent"
		}); err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		if _, err := f.CreateUser([]string{models.PermViewAllStorageRequests}, func(u *models.User) {
			u.Username = ReviewerUsername
			u.Email = ReviewerUsername + "@coldfront.local"
		}); err != nil {
			return fmt.Errorf("create reviewer: %w", err)
		}
		summary.Users += 2

		for i := 0; i < opts.NumProjects; i++ {
			pi, err := f.CreateUser(nil)
			if err != nil {
				return fmt.Errorf("create PI: %w", err)
			}
			members := make([]*models.User, 0, opts.MembersPerProject)
			for j := 0; j < opts.MembersPerProject; j++ {
				m, err := f.CreateUser(nil)
				if err != nil {
					return fmt.Errorf("create member: %w", err)
				}
				members = append(members, m)
			}
			summary.Users += 1 + len(members)

			project, err := f.CreateProject(pi, members)
			if err != nil {
				return fmt.Errorf("create project: %w", err)
			}
			summary.Projects++

			status := models.StorageRequestStatuses[i%len(models.StorageRequestStatuses)]
			if _, err := f.CreateStorageRequest(project, pi, status); err != nil {
				return fmt.Errorf("create %q request: %w", status, err)
			}
			summary.ByStatus[status]++
		}
		return nil
	}

	var err error
	if opts.DryRun {
		err = run(db)
	} else {
		err = db.Transaction(run)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("Demo seed complete: %d users, %d projects, %d requests",
		summary.Users, summary.Projects, summary.Requests())
	return summary, nil
}

// clearData deletes every portal row. Children go first so it works without
// cascading foreign keys.
func clearData(db *gorm.DB) error {
	log.Println("Clearing existing data...")
	all := db.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, model := range []any{
		&models.AllocationUser{},
		&models.Allocation{},
		&models.StorageRequest{},
		&models.ProjectUser{},
		&models.Project{},
		&models.UserPermission{},
		&models.User{},
	} {
		if err := all.Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}
