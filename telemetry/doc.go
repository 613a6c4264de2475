/*
Package telemetry records what repository operations do.

Every public collection operation produces one ActionEvent: the operation
name, elapsed time, item count, the error if any, and free-form data, paired
with the server, database, collection and entity type it ran against.

A Monitor is created explicitly and shared by reference:

	monitor := telemetry.NewMonitor(logger)
	stop := monitor.Subscribe(func(e telemetry.ActionEvent) { ... })
	defer stop()

	http.Handle("/metrics", promhttp.HandlerFor(monitor.Registry(), promhttp.HandlerOpts{}))

Successful operations are logged at debug level, failures at error level.
*/
package telemetry
