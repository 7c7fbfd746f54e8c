package sandboxfs

// LegalNotice provides license notices for sandboxfs and its third-party
// dependencies. It is printed by the CLI's --legal flag.
const LegalNotice = `sandboxfs

Licensed under the terms of the MIT License.


================================================================================
sandboxfs depends on the following third-party software:
================================================================================

github.com/pkg/errors - BSD 2-Clause License
github.com/fatih/color - MIT License
github.com/google/uuid - BSD 3-Clause License
github.com/spf13/cobra - Apache License 2.0
github.com/spf13/pflag - BSD 3-Clause License
github.com/dustin/go-humanize - MIT License
github.com/bmatcuk/doublestar - BSD 3-Clause License (v4)

Run with --legal at any time to reprint this notice.
`
