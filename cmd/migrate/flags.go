package migrate

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dsrkit/dsrkit/cmd/util"
)

// bindRunFlagsFunc binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindRunFlagsFunc(flags *pflag.FlagSet) func(*cobra.Command, []string) {
	return func(_ *cobra.Command, _ []string) {
		util.MustBindPFlag(datastoreEngineFlag, flags.Lookup(datastoreEngineFlag))
		util.MustBindEnv(datastoreEngineFlag, "DSRKIT_DATASTORE_ENGINE")

		util.MustBindPFlag(datastoreURIFlag, flags.Lookup(datastoreURIFlag))
		util.MustBindEnv(datastoreURIFlag, "DSRKIT_DATASTORE_URI")

		util.MustBindPFlag(datastoreUsernameFlag, flags.Lookup(datastoreUsernameFlag))
		util.MustBindEnv(datastoreUsernameFlag, "DSRKIT_DATASTORE_USERNAME")

		util.MustBindPFlag(datastorePasswordFlag, flags.Lookup(datastorePasswordFlag))
		util.MustBindEnv(datastorePasswordFlag, "DSRKIT_DATASTORE_PASSWORD")

		util.MustBindPFlag(versionFlag, flags.Lookup(versionFlag))

		util.MustBindPFlag(timeoutFlag, flags.Lookup(timeoutFlag))
		util.MustBindEnv(timeoutFlag, "DSRKIT_TIMEOUT")

		util.MustBindPFlag(verboseMigrationFlag, flags.Lookup(verboseMigrationFlag))
		util.MustBindEnv(verboseMigrationFlag, "DSRKIT_VERBOSE")

		util.MustBindPFlag(logFormatFlag, flags.Lookup(logFormatFlag))
		util.MustBindEnv(logFormatFlag, "DSRKIT_LOG_FORMAT")

		util.MustBindPFlag(logLevelFlag, flags.Lookup(logLevelFlag))
		util.MustBindEnv(logLevelFlag, "DSRKIT_LOG_LEVEL")

		util.MustBindPFlag(logTimestampFormatFlag, flags.Lookup(logTimestampFormatFlag))
		util.MustBindEnv(logTimestampFormatFlag, "DSRKIT_LOG_TIMESTAMP_FORMAT")
	}
}
