package gorm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	uuid "github.com/satori/go.uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"

	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage"
	"github.com/tasknet-io/tasknet/cmd/orchestrator/storage/gorm/models"
	"github.com/tasknet-io/tasknet/pkg/logger"
	"github.com/tasknet-io/tasknet/pkg/restapi"
)

type gormDriver struct {
	db *gorm.DB
}

func mapError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = errors.Join(storage.ErrNotFound, err)
	}
	return err
}

func keyValuesToMap(pairs []models.KeyValue) map[string]string {
	result := make(map[string]string)
	for _, pair := range pairs {
		result[pair.Key] = pair.Value
	}
	return result
}

func mapToKeyValues(pairs map[string]string) []models.KeyValue {
	result := []models.KeyValue{}
	for key, value := range pairs {
		result = append(result, models.KeyValue{Key: key, Value: value})
	}
	return result
}

func restHostFromHost(dbHost models.Host) (restapi.Host, error) {
	host := restapi.Host{
		Id:            dbHost.UUID.String(),
		State:         dbHost.State.String(),
		Name:          dbHost.Name,
		Address:       dbHost.Address,
		Port:          dbHost.Port,
		Username:      dbHost.Username,
		Password:      dbHost.Password,
		KeyFile:       dbHost.KeyFile,
		KeyPassphrase: dbHost.KeyPassphrase,
		Interpreter:   dbHost.Interpreter,
		ChannelSlots:  dbHost.ChannelSlots,
		Labels:        keyValuesToMap(dbHost.Labels),
		Taints:        keyValuesToMap(dbHost.Taints),
	}

	if err := json.Unmarshal(dbHost.Gpus, &host.Gpus); err != nil {
		return restapi.Host{}, err
	}

	if len(dbHost.Policy) > 0 {
		if err := json.Unmarshal(dbHost.Policy, &host.Policy); err != nil {
			return restapi.Host{}, err
		}
	}

	return host, nil
}

func restJobFromJob(dbJob models.Job) (restapi.Job, error) {
	job := restapi.Job{
		Id:         dbJob.UUID.String(),
		State:      dbJob.State.String(),
		Workdir:    dbJob.Workdir,
		ExitStatus: dbJob.ExitStatus.String(),
		ExitCode:   dbJob.ExitCode,
		Output:     dbJob.Output,
	}

	if dbJob.Host != nil {
		job.HostId = dbJob.Host.UUID.String()
	}

	if err := json.Unmarshal(dbJob.Command, &job.Command); err != nil {
		return restapi.Job{}, err
	}

	if len(dbJob.Env) > 0 {
		if err := json.Unmarshal(dbJob.Env, &job.Env); err != nil {
			return restapi.Job{}, err
		}
	}

	if len(dbJob.GPUs) > 0 {
		if err := json.Unmarshal(dbJob.GPUs, &job.Gpus); err != nil {
			return restapi.Job{}, err
		}
	}

	return job, nil
}

func OpenStorage(ctx context.Context, driver string, dsn string) (storage.Storage, error) {
	var db *gorm.DB
	var err error

	config := &gorm.Config{
		Logger: NewLogger(glogger.Config{
			LogLevel: glogger.Warn,
		}),
	}

	switch driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(dsn), config)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), config)
	default:
		err = fmt.Errorf("invalid GORM driver specified, %s", driver)
	}

	if err != nil {
		return nil, mapError(err)
	}

	err = db.AutoMigrate(
		&models.KeyValue{},
		&models.Job{},
		&models.Host{},
	)

	if err != nil {
		return nil, mapError(err)
	}

	return &gormDriver{
		db: db,
	}, err
}

func (g *gormDriver) Close() error {
	return nil
}

func (g *gormDriver) AggregateData() (storage.AggregatedData, error) {
	data := storage.AggregatedData{
		HostsByState:  map[string]int{},
		JobsByState:   map[string]int{},
		GpusByGpuName: map[string]int{},
		VramByGpuName: map[string]uint64{},
	}

	var dbHosts []models.Host
	result := g.db.Model(&models.Host{}).Find(&dbHosts)
	if result.Error != nil {
		return storage.AggregatedData{}, mapError(result.Error)
	}

	for _, dbHost := range dbHosts {
		data.Hosts++
		data.HostsByState[dbHost.State.String()]++
		data.VramAvailable += dbHost.VramAvailable

		var gpus []restapi.Gpu
		if err := json.Unmarshal(dbHost.Gpus, &gpus); err != nil {
			logger.Warning(err)
			continue
		}

		for _, gpu := range gpus {
			data.Gpus++
			data.GpusByGpuName[gpu.Name]++
			data.Vram += gpu.Vram
			data.VramByGpuName[gpu.Name] += gpu.Vram
		}
	}

	var dbJobs []models.Job
	result = g.db.Model(&models.Job{}).Find(&dbJobs)
	if result.Error != nil {
		return storage.AggregatedData{}, mapError(result.Error)
	}

	for _, dbJob := range dbJobs {
		data.Jobs++
		data.JobsByState[dbJob.State.String()]++

		if dbJob.State == models.JobStateQueued {
			data.VramQueued += dbJob.VramRequired
		}
	}

	return data, nil
}

func (g *gormDriver) RegisterHost(host restapi.Host) (string, error) {
	gpus, err := json.Marshal(host.Gpus)
	if err != nil {
		return "", err
	}

	policy, err := json.Marshal(host.Policy)
	if err != nil {
		return "", err
	}

	state := models.HostStateFromString(host.State)
	if host.State == "" {
		state = models.HostStateActive
	}

	dbHost := models.Host{
		UUID:          uuid.NewV4(),
		State:         state,
		Name:          host.Name,
		Address:       host.Address,
		Port:          host.Port,
		Username:      host.Username,
		Password:      host.Password,
		KeyFile:       host.KeyFile,
		KeyPassphrase: host.KeyPassphrase,
		Interpreter:   host.Interpreter,
		ChannelSlots:  host.ChannelSlots,
		Policy:        policy,
		Gpus:          gpus,
		VramAvailable: storage.TotalVram(host.Gpus),

		Labels: mapToKeyValues(host.Labels),
		Taints: mapToKeyValues(host.Taints),
	}

	if err = g.db.Create(&dbHost).Error; err != nil {
		return "", mapError(err)
	}

	return dbHost.UUID.String(), nil
}

func (g *gormDriver) GetHostById(id string) (restapi.Host, error) {
	dbHost := models.Host{
		UUID: uuid.FromStringOrNil(id),
	}

	result := g.db.Preload("Labels").Preload("Taints").Where(&dbHost, "UUID").First(&dbHost)
	if err := result.Error; err != nil {
		return restapi.Host{}, mapError(err)
	}

	return restHostFromHost(dbHost)
}

func (g *gormDriver) GetHosts() (storage.Iterator[restapi.Host], error) {
	// TODO pagination should be passed in through storage interface
	var dbHosts []models.Host
	result := g.db.Model(&models.Host{}).
		Preload("Labels").Preload("Taints").
		Limit(50).
		Find(&dbHosts)

	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	hosts := []restapi.Host{}
	for _, dbHost := range dbHosts {
		host, err := restHostFromHost(dbHost)
		if err != nil {
			logger.Warning(err)
		} else {
			hosts = append(hosts, host)
		}
	}

	return storage.NewDefaultIterator[restapi.Host](hosts), nil
}

func (g *gormDriver) GetAvailableHostsMatching(vramAvailableAtLeast uint64, matchLabels map[string]string, tolerates map[string]string) (storage.Iterator[restapi.Host], error) {
	// TODO pagination should be passed in through storage interface
	var dbHosts []models.Host
	result := g.db.Model(&models.Host{}).
		Preload("Labels").Preload("Taints").
		Where("state = ?", models.HostStateActive).
		Where("vram_available >= ?", vramAvailableAtLeast).
		Limit(50).
		Find(&dbHosts)

	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	// Label and taint filtering happens here, key/value subset matching
	// does not translate into a portable query
	hosts := []restapi.Host{}
	for _, dbHost := range dbHosts {
		host, err := restHostFromHost(dbHost)
		if err != nil {
			logger.Warning(err)
			continue
		}

		if storage.IsSubset(host.Labels, matchLabels) && storage.IsSubset(tolerates, host.Taints) {
			hosts = append(hosts, host)
		}
	}

	return storage.NewDefaultIterator[restapi.Host](hosts), nil
}

func (g *gormDriver) SetHostState(id string, state string) error {
	dbHost := models.Host{
		UUID: uuid.FromStringOrNil(id),
	}

	err := g.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(&dbHost, "UUID").First(&dbHost)
		if result.Error != nil {
			return result.Error
		}

		dbHost.State = models.HostStateFromString(state)

		tx.Updates(&dbHost)
		return nil
	})

	return mapError(err)
}

func (g *gormDriver) UpdateHostGpus(id string, gpus []restapi.Gpu) error {
	marshaled, err := json.Marshal(gpus)
	if err != nil {
		return err
	}

	dbHost := models.Host{
		UUID: uuid.FromStringOrNil(id),
	}

	err = g.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(&dbHost, "UUID").First(&dbHost)
		if result.Error != nil {
			return result.Error
		}

		var previous []restapi.Gpu
		if len(dbHost.Gpus) > 0 {
			if err := json.Unmarshal(dbHost.Gpus, &previous); err != nil {
				return err
			}
		}

		// Keep the vram already claimed by assigned jobs claimed
		dbHost.VramAvailable += storage.TotalVram(gpus) - storage.TotalVram(previous)
		dbHost.Gpus = marshaled

		tx.Updates(&dbHost)
		return nil
	})

	return mapError(err)
}

func (g *gormDriver) RemoveHost(id string) error {
	result := g.db.Unscoped().
		Where("uuid = ?", uuid.FromStringOrNil(id)).
		Delete(&models.Host{})
	return mapError(result.Error)
}

func (g *gormDriver) SubmitJob(submit restapi.SubmitJob) (string, error) {
	var dbJob *models.Job
	err := g.db.Transaction(func(tx *gorm.DB) error {
		command, err := json.Marshal(submit.Command)
		if err != nil {
			return err
		}

		env, err := json.Marshal(submit.Env)
		if err != nil {
			return err
		}

		requirements, err := json.Marshal(submit.Requirements)
		if err != nil {
			return err
		}

		dbJob = &models.Job{
			UUID:         uuid.NewV4(),
			Host:         nil,
			State:        models.JobStateQueued,
			Command:      command,
			Env:          env,
			Workdir:      submit.Workdir,
			Requirements: requirements,
			VramRequired: storage.TotalVramRequired(submit.Requirements),

			Labels:    mapToKeyValues(submit.Requirements.MatchLabels),
			Tolerates: mapToKeyValues(submit.Requirements.Tolerates),
		}

		tx.Create(dbJob)

		return nil
	})

	if err != nil {
		return "", mapError(err)
	}

	return dbJob.UUID.String(), nil
}

func (g *gormDriver) AssignJob(jobId string, hostId string, gpus []restapi.JobGpu) error {
	err := g.db.Transaction(func(tx *gorm.DB) error {
		gpusData, err := json.Marshal(gpus)
		if err != nil {
			return err
		}

		dbHost := models.Host{
			UUID: uuid.FromStringOrNil(hostId),
		}

		dbJob := models.Job{
			UUID: uuid.FromStringOrNil(jobId),
		}

		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(&dbHost, "UUID").First(&dbHost)
		if result.Error != nil {
			return result.Error
		}

		result = tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(&dbJob, "UUID").First(&dbJob)
		if result.Error != nil {
			return result.Error
		}

		dbJob.GPUs = gpusData
		dbJob.Host = &dbHost
		dbJob.State = models.JobStateAssigned
		dbHost.VramAvailable -= dbJob.VramRequired

		tx.Updates(&dbJob)
		tx.Updates(&dbHost)

		return nil
	})

	return mapError(err)
}

func (g *gormDriver) UpdateJob(update restapi.JobUpdate) error {
	err := g.db.Transaction(func(tx *gorm.DB) error {
		dbJob := models.Job{
			UUID: uuid.FromStringOrNil(update.Id),
		}

		result := tx.Preload("Host").Clauses(clause.Locking{Strength: "UPDATE"}).Where(&dbJob, "UUID").First(&dbJob)
		if result.Error != nil {
			return result.Error
		}

		wasTerminal := dbJob.State.Terminal()

		dbJob.State = models.JobStateFromString(update.State)
		if update.ExitStatus != "" {
			dbJob.ExitStatus = models.ExitStatusFromString(update.ExitStatus)
		}
		dbJob.ExitCode = update.ExitCode
		if update.Output != "" {
			dbJob.Output = update.Output
		}

		if !wasTerminal && dbJob.State.Terminal() && dbJob.Host != nil {
			dbJob.Host.VramAvailable += dbJob.VramRequired
			tx.Updates(dbJob.Host)
		}

		tx.Updates(&dbJob)

		return nil
	})

	return mapError(err)
}

func (g *gormDriver) CancelJob(jobId string) error {
	err := g.db.Transaction(func(tx *gorm.DB) error {
		dbJob := models.Job{
			UUID: uuid.FromStringOrNil(jobId),
		}

		result := tx.Preload("Host").Clauses(clause.Locking{Strength: "UPDATE"}).Where(&dbJob, "UUID").First(&dbJob)
		if result.Error != nil {
			return result.Error
		}

		switch dbJob.State {
		case models.JobStateQueued:
			dbJob.State = models.JobStateCanceled
			dbJob.ExitStatus = models.ExitStatusCanceled
		case models.JobStateAssigned, models.JobStateRunning:
			dbJob.State = models.JobStateCanceling
		default:
			return nil
		}

		tx.Updates(&dbJob)

		return nil
	})

	return mapError(err)
}

func (g *gormDriver) GetJobById(id string) (restapi.Job, error) {
	dbJob := models.Job{
		UUID: uuid.FromStringOrNil(id),
	}

	result := g.db.Preload("Host").Where(&dbJob, "UUID").First(&dbJob)
	if result.Error != nil {
		return restapi.Job{}, mapError(result.Error)
	}

	return restJobFromJob(dbJob)
}

func (g *gormDriver) GetQueuedJobById(id string) (storage.QueuedJob, error) {
	dbJob := models.Job{
		UUID:  uuid.FromStringOrNil(id),
		State: models.JobStateQueued,
	}

	result := g.db.Model(&models.Job{}).Where(&dbJob, "UUID", "State").First(&dbJob)
	if result.Error != nil {
		return storage.QueuedJob{}, mapError(result.Error)
	}

	queuedJob := storage.QueuedJob{
		Id: dbJob.UUID.String(),
	}

	err := json.Unmarshal(dbJob.Requirements, &queuedJob.Requirements)
	if err != nil {
		return storage.QueuedJob{}, err
	}

	return queuedJob, nil
}

func (g *gormDriver) GetQueuedJobsIterator() (storage.Iterator[storage.QueuedJob], error) {
	// TODO pagination should be passed in through storage interface
	var dbJobs []models.Job
	result := g.db.Model(&models.Job{}).
		Where("state = ?", models.JobStateQueued).
		Limit(50).
		Find(&dbJobs)
	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	queuedJobs := []storage.QueuedJob{}
	for _, dbJob := range dbJobs {
		queuedJob := storage.QueuedJob{
			Id: dbJob.UUID.String(),
		}

		if err := json.Unmarshal(dbJob.Requirements, &queuedJob.Requirements); err != nil {
			logger.Error(err)
			continue
		}

		queuedJobs = append(queuedJobs, queuedJob)
	}

	return storage.NewDefaultIterator[storage.QueuedJob](queuedJobs), nil
}

func (g *gormDriver) GetAssignedJobsIterator() (storage.Iterator[restapi.Job], error) {
	// TODO pagination should be passed in through storage interface
	var dbJobs []models.Job
	result := g.db.Model(&models.Job{}).
		Preload("Host").
		Where("state = ?", models.JobStateAssigned).
		Limit(50).
		Find(&dbJobs)
	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	jobs := []restapi.Job{}
	for _, dbJob := range dbJobs {
		job, err := restJobFromJob(dbJob)
		if err != nil {
			logger.Error(err)
			continue
		}

		jobs = append(jobs, job)
	}

	return storage.NewDefaultIterator[restapi.Job](jobs), nil
}

func (g *gormDriver) GetActiveJobsForHost(hostId string) ([]restapi.Job, error) {
	dbHost := models.Host{
		UUID: uuid.FromStringOrNil(hostId),
	}

	result := g.db.Where(&dbHost, "UUID").First(&dbHost)
	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	var dbJobs []models.Job
	result = g.db.Model(&models.Job{}).
		Preload("Host").
		Where("host_id = ?", dbHost.ID).
		Where("state IN ?", []models.JobState{
			models.JobStateAssigned,
			models.JobStateRunning,
			models.JobStateCanceling,
		}).
		Find(&dbJobs)
	if result.Error != nil {
		return nil, mapError(result.Error)
	}

	jobs := []restapi.Job{}
	for _, dbJob := range dbJobs {
		job, err := restJobFromJob(dbJob)
		if err != nil {
			logger.Error(err)
			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, nil
}
