package milestones

// Milestone is one (marker, percentage, label) triple. The marker is tried
// as a regular expression first and as a plain substring when the regex is
// invalid.
type Milestone struct {
	Marker     string
	Percentage int
	Label      string
}

// FreeSurfer recon-all (~6-8 hours). Phase weights: autorecon1 ~3%,
// autorecon2 ~70%, autorecon3 ~20%, post-processing ~5%.
var freesurferRecon = []Milestone{
	{"recon-all", 2, "Initializing recon-all"},
	{"SUBJECTS_DIR", 3, "Setting up subject directory"},

	{"MotionCorrect", 5, "Motion correction"},
	{"mri_convert", 6, "Converting input format"},
	{"Talairach", 8, "Talairach registration"},
	{"NUIntensityCorrection", 10, "Intensity correction (N3)"},
	{"SkullStripping", 14, "Skull stripping"},

	{"EMRegister", 18, "EM registration"},
	{"CANormalize", 20, "CA normalize"},
	{"CARegister", 25, "CA register (atlas)"},
	{"SubCortSeg", 30, "Subcortical segmentation"},
	{"IntensityNormalization2", 33, "Intensity normalization 2"},
	{"WhiteMatterSegmentation", 36, "White matter segmentation"},
	{"Fill", 38, "Filling ventricles"},
	{"Tessellate", 42, "Tessellating hemispheres"},
	{"Smooth1", 45, "Smoothing surface 1"},
	{"Inflation1", 48, "Inflating surface 1"},
	{"QSphere", 52, "Quasi-sphere mapping"},
	{"FixTopology", 56, "Fixing topology"},
	{"MakeWhiteSurface", 60, "Generating white surface"},
	{"Smooth2", 63, "Smoothing surface 2"},
	{"Inflation2", 65, "Inflating surface 2"},
	{"SphericalMapping", 68, "Spherical mapping"},
	{"IpsilateralSurfaceReg", 72, "Surface registration"},
	{"CorticalParcellation", 75, "Cortical parcellation (Desikan)"},
	{"PialSurface", 78, "Generating pial surface"},

	{"CorticalParcellation2", 82, "Cortical parcellation (DKT)"},
	{"CorticalRibbon", 85, "Cortical ribbon mask"},
	{"CorticalThickness", 88, "Computing cortical thickness"},
	{"ParcellationStats", 91, "Parcellation statistics"},
	{"CorticalParcellation3", 93, "Cortical parcellation (BA)"},
	{"WM/GMContrast", 95, "WM/GM contrast"},

	{"recon-all.*finished", 97, "recon-all finished"},
	{"FreeSurfer recon-all completed", 100, "Completed"},
}

// FastSurfer (~10-60 min depending on GPU/CPU)
var fastsurfer = []Milestone{
	{"run_fastsurfer", 2, "Starting FastSurfer"},
	{"SUBJECTS_DIR", 3, "Setting up directories"},

	{"Running FastSurferCNN", 5, "Loading segmentation model"},
	{"Loading checkpoint", 8, "Loading model checkpoint"},
	{"Evaluating", 12, "Running CNN segmentation"},
	{"sagittal", 18, "Segmenting sagittal plane"},
	{"coronal", 24, "Segmenting coronal plane"},
	{"axial", 30, "Segmenting axial plane"},
	{"ViewAggregation", 35, "Aggregating views"},

	{"recon-surf", 38, "Starting surface recon"},
	{"mri_convert", 40, "Converting volumes"},
	{"mris_inflate", 50, "Inflating surfaces"},
	{"mris_sphere", 58, "Spherical mapping"},
	{"mris_register", 65, "Surface registration"},
	{"mris_ca_label", 72, "Cortical parcellation"},
	{"mris_anatomical_stats", 80, "Anatomical statistics"},
	{"mri_aparc2aseg", 85, "aparc+aseg creation"},

	{"aseg.stats", 90, "Writing statistics"},
	{"Metrics extracted", 95, "Extracting metrics"},

	{"FastSurfer completed", 100, "Completed"},
}

// fMRIPrep (~2-6 hours)
var fmriprep = []Milestone{
	{"fMRIPrep", 2, "Initializing fMRIPrep"},
	{"Anatomical processing", 8, "Anatomical preprocessing"},
	{"Brain extraction", 15, "Brain extraction"},
	{"Tissue segmentation", 22, "Tissue segmentation"},
	{"Surface reconstruction", 35, "Surface reconstruction"},
	{"BOLD processing", 50, "BOLD preprocessing"},
	{"Slice-timing correction", 55, "Slice-timing correction"},
	{"Head-motion estimation", 60, "Head-motion estimation"},
	{"Susceptibility distortion", 65, "Susceptibility distortion correction"},
	{"Registration", 72, "Registration to standard"},
	{"Confound estimation", 82, "Confound estimation"},
	{"BOLD resampling", 90, "BOLD resampling"},
	{"Generating report", 95, "Generating report"},
	{"fMRIPrep finished", 100, "Completed"},
}

// Generic fallback for any unknown plugin
var generic = []Milestone{
	{"Starting", 5, "Initializing"},
	{"Processing", 25, "Processing"},
	{"Running", 50, "Running"},
	{"Writing", 75, "Writing outputs"},
	{"completed", 100, "Completed"},
}

var byPlugin = map[string][]Milestone{
	"freesurfer_recon":      freesurferRecon,
	"freesurfer_recon_long": freesurferRecon,
	"fastsurfer":            fastsurfer,
	"fastsurfer_seg":        fastsurfer,
	"fmriprep":              fmriprep,
}

// ForPlugin returns the milestone list for a plugin, falling back to the
// generic list for unknown plugins
func ForPlugin(pluginID string) []Milestone {
	if m, ok := byPlugin[pluginID]; ok {
		return m
	}
	return generic
}
