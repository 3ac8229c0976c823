// Package maintenance schedules codegen directory housekeeping.
//
//	s := maintenance.New(logger, metrics)
//	s.Add("delete-markers", "*/10 * * * *", maintenance.SweepDeleteMarkers(disk))
//	s.Add("temp-files", "0 * * * *", maintenance.RemoveTempFiles(disk, time.Hour))
//	s.Start()
//	defer func() { <-s.Stop().Done() }()
package maintenance
